package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/relayforge/devgate/internal/api"
	"github.com/relayforge/devgate/internal/audit"
	"github.com/relayforge/devgate/internal/auth"
	"github.com/relayforge/devgate/internal/config"
	"github.com/relayforge/devgate/internal/device"
	"github.com/relayforge/devgate/internal/gateway"
	"github.com/relayforge/devgate/internal/secrets"
	"github.com/relayforge/devgate/internal/store/sqlite"
	"golang.org/x/sync/errgroup"
)

func cmdServe(args []string) error {
	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	cfg := loadConfig()
	applyFlags(cfg, args)

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	fileCfg, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return err
	}

	db, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	tunnelSecret, err := loadTunnelSecret(cfg, fileCfg)
	if err != nil {
		return err
	}

	verifier := auth.NewVerifier(auth.Config{
		SessionIssuer:  fileCfg.SessionIssuer,
		SessionJWKSURL: fileCfg.SessionJWKS(),
		OAuthIssuer:    fileCfg.OAuthIssuer(),
		OAuthJWKSURL:   fileCfg.OAuthJWKS(),
		Audience:       fileCfg.ProjectID,
	})

	deviceClient := device.NewClient(fileCfg.TunnelDomain, fileCfg.TunnelClientID, tunnelSecret, logger)
	sessions := gateway.NewMemorySessionStore()
	auditor := audit.NewLogger(db, logger)

	handler := gateway.NewHandler(sessions, verifier, deviceClient, db, auditor, logger)
	mcpServer := gateway.NewServer(handler, sessions, fileCfg.ExternalURL, logger)

	router := api.NewRouter(api.RouterDeps{
		Store:        db,
		Verifier:     verifier,
		MCP:          mcpServer,
		TunnelDomain: fileCfg.TunnelDomain,
		ExternalURL:  fileCfg.ExternalURL,
		AuthServer:   fileCfg.OAuthIssuer(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: /mcp streams stay open indefinitely.
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MiB
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down http server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// applyFlags parses --addr=X flags from the args list.
func applyFlags(cfg *Config, args []string) {
	for _, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--addr="); ok {
			cfg.HTTPAddr = v
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			cfg.ConfigFile = v
		}
	}
}

// loadTunnelSecret resolves the tunnel service-token secret: the
// environment wins, otherwise the age-encrypted file next to the
// config is decrypted.
func loadTunnelSecret(cfg *Config, fileCfg *config.FileConfig) (string, error) {
	if cfg.TunnelSecret != "" {
		return cfg.TunnelSecret, nil
	}
	if fileCfg.TunnelSecretFile == "" {
		return "", fmt.Errorf("no tunnel secret: set DEVGATE_TUNNEL_SECRET or tunnel_secret_file")
	}

	enc, err := encryptorFor(cfg)
	if err != nil {
		return "", err
	}
	plaintext, err := enc.LoadEncryptedFile(fileCfg.TunnelSecretFile)
	if err != nil {
		return "", fmt.Errorf("decrypt tunnel secret: %w", err)
	}
	return strings.TrimSpace(string(plaintext)), nil
}

// encryptorFor opens (or creates) the age identity used for secrets at
// rest. The key lives next to the database unless overridden.
func encryptorFor(cfg *Config) (*secrets.Encryptor, error) {
	keyPath := cfg.AgeKeyPath
	if keyPath == "" {
		keyPath = cfg.DBPath + ".age"
	}
	return secrets.EnsureKeyFile(keyPath)
}
