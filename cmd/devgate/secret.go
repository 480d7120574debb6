package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// cmdSecret manages the age-encrypted tunnel secret file.
//
//	devgate secret encrypt <path>   reads plaintext on stdin, writes <path>
//	devgate secret show <path>      decrypts <path> to stdout
func cmdSecret(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: devgate secret [encrypt|show] <path>")
	}
	action, path := args[0], args[1]

	cfg := loadConfig()
	enc, err := encryptorFor(cfg)
	if err != nil {
		return err
	}

	switch action {
	case "encrypt":
		plaintext, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		plaintext = []byte(strings.TrimSpace(string(plaintext)))
		if len(plaintext) == 0 {
			return fmt.Errorf("empty secret")
		}
		if err := enc.SaveEncryptedFile(path, plaintext); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", path)
		return nil
	case "show":
		plaintext, err := enc.LoadEncryptedFile(path)
		if err != nil {
			return err
		}
		fmt.Println(string(plaintext))
		return nil
	default:
		return fmt.Errorf("unknown secret action: %s", action)
	}
}
