package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/tableload/internal/config"
	"github.com/JonMunkholm/tableload/internal/core"
	_ "github.com/JonMunkholm/tableload/internal/database/all" // Register all backends
	"github.com/JonMunkholm/tableload/internal/logging"
	"github.com/JonMunkholm/tableload/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration", "config", cfg.String())

	profile, err := cfg.Database.Profile()
	if err != nil {
		slog.Error("invalid database settings", "error", err)
		os.Exit(1)
	}

	engine := core.NewEngine(
		core.WithLogger(slog.Default()),
		core.WithConnectTimeout(cfg.Database.ConnectTimeout),
	)

	// Check the target once so misconfiguration shows up at startup. The
	// server still starts; the database may come up later.
	ctx := context.Background()
	if ok, err := engine.Validate(ctx, profile); !ok {
		slog.Warn("database not reachable", "target", profile.String(), "error", err, "hint", core.FormatUserError(err))
	} else {
		slog.Info("connected to database", "target", profile.String())
	}

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"driver", profile.Driver,
		"drivers", core.Drivers(),
		"max_concurrent", cfg.Server.MaxConcurrent,
		"auth_required", cfg.Security.RequireAPIKey,
	)
	if cfg.Ingest.AllowFilePaths && !cfg.Security.RequireAPIKey {
		slog.Warn("server file paths are enabled without API key auth; any client can load any file this process can read",
			"hint", "set REQUIRE_API_KEY=true and API_KEYS, or INGEST_ALLOW_FILE_PATHS=false")
	}

	server := web.NewServer(cfg, engine, profile)

	// Graceful shutdown
	idle := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("ingestions did not complete in time", "error", err)
		}
		close(idle)
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-idle
	slog.Info("server stopped")
}
