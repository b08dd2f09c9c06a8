// Package main is the entry point for the Cloudtype API server.
//
// main only reads configuration, builds the logger and hands both to
// internal/server, which owns every other dependency.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sakif/cloudtype/internal/config"
	"github.com/sakif/cloudtype/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default $"+config.EnvConfigPath+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	if cfg.Auth.JWTSecret == config.Default().Auth.JWTSecret {
		logger.Warn("JWT secret is the built-in default; set JWT_SECRET in production")
	}
	if !cfg.GitHub.Enabled() {
		logger.Info("GITHUB_CLIENT_ID/GITHUB_CLIENT_SECRET not set, GitHub sign-in disabled")
	}

	// === BUILD ===
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		cancel()
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := srv.SeedAdmin(ctx); err != nil {
		cancel()
		srv.Close()
		logger.Error("failed to seed admin identity", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cancel()

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
