package main

import (
	"log/slog"
	"os"
	"path/filepath"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	HTTPAddr     string     // "127.0.0.1:8080"
	DBPath       string     // sqlite database path
	AgeKeyPath   string     // path to age identity file
	ConfigFile   string     // path to devgate.yaml
	LogLevel     slog.Level // slog level
	TunnelSecret string     // plaintext tunnel secret; overrides the encrypted file
}

// defaultDataPath returns ~/.devgate/<filename>, falling back to
// a CWD-relative path if the home directory can't be resolved.
func defaultDataPath(filename string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filename
	}
	return filepath.Join(home, ".devgate", filename)
}

func loadConfig() *Config {
	return &Config{
		HTTPAddr:     envOr("DEVGATE_HTTP_ADDR", "127.0.0.1:8080"),
		DBPath:       envOr("DEVGATE_DB_PATH", defaultDataPath("devgate.db")),
		AgeKeyPath:   envOr("DEVGATE_AGE_KEY", ""),
		ConfigFile:   envOr("DEVGATE_CONFIG", defaultDataPath("devgate.yaml")),
		LogLevel:     parseLogLevel(envOr("DEVGATE_LOG_LEVEL", "info")),
		TunnelSecret: envOr("DEVGATE_TUNNEL_SECRET", ""),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
