// Command server runs the Inkwell API.
//
// Configuration comes from an optional YAML file named by INKWELL_CONFIG and
// from environment variables (see internal/config). JWT_SECRET is required:
//
//	JWT_SECRET=$(openssl rand -hex 32) go run ./cmd/server
package main

import (
	"log/slog"
	"os"

	"github.com/sakif/inkwell/internal/config"
	"github.com/sakif/inkwell/internal/logging"
	"github.com/sakif/inkwell/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	if cfg.AdminEmail == "" {
		logger.Warn("INKWELL_ADMIN_EMAIL not set, no account will be promoted to admin automatically")
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
