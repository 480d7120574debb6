// Package secrets encrypts small secret values at rest using age
// (X25519 recipients). The gateway uses it to protect the tunnel
// service-token secret stored on disk.
package secrets

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"filippo.io/age"
)

// Encryptor encrypts and decrypts byte payloads with a fixed identity.
type Encryptor struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewEncryptor wraps an existing X25519 identity.
func NewEncryptor(identity *age.X25519Identity) *Encryptor {
	return &Encryptor{identity: identity, recipient: identity.Recipient()}
}

// NewEphemeralEncryptor generates a throwaway identity. Useful in tests
// and for single-process deployments that do not persist the key.
func NewEphemeralEncryptor() (*Encryptor, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return NewEncryptor(identity), nil
}

// EnsureKeyFile loads the age identity from path, generating and
// writing a new one (mode 0600) if the file does not exist.
func EnsureKeyFile(path string) (*Encryptor, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		identity, err := parseIdentity(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", path, err)
		}
		return NewEncryptor(identity), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# created: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&buf, "# public key: %s\n", identity.Recipient())
	fmt.Fprintf(&buf, "%s\n", identity)

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return nil, fmt.Errorf("write key file %s: %w", path, err)
	}
	return NewEncryptor(identity), nil
}

func parseIdentity(data string) (*age.X25519Identity, error) {
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return age.ParseX25519Identity(line)
	}
	return nil, fmt.Errorf("no identity line found")
}

// Encrypt seals plaintext for the encryptor's recipient.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, e.recipient)
	if err != nil {
		return nil, fmt.Errorf("init encrypt: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize encrypt: %w", err)
	}
	return buf.Bytes(), nil
}

// Decrypt opens a payload produced by Encrypt.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), e.identity)
	if err != nil {
		return nil, fmt.Errorf("init decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read plaintext: %w", err)
	}
	return plaintext, nil
}

// LoadEncryptedFile reads and decrypts a file written by SaveEncryptedFile.
func (e *Encryptor) LoadEncryptedFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return e.Decrypt(data)
}

// SaveEncryptedFile encrypts the value and writes it to path (mode 0600).
func (e *Encryptor) SaveEncryptedFile(path string, plaintext []byte) error {
	ciphertext, err := e.Encrypt(plaintext)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, ciphertext, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
