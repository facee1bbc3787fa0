// Package main is the entry point for the promptr access server.
//
// The main package stays minimal:
// 1. Load and validate configuration (environment, optionally .env)
// 2. Build the logger
// 3. Create the server and block in Start until a shutdown signal
//
// Everything else lives in internal/.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/sakif/promptr-access/internal/config"
	"github.com/sakif/promptr-access/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// The context outlives startup: the JWKS refresher runs under it.
	// Database and Redis connects bound themselves with retry limits.
	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
