package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mgrover/collabd/internal/clock"
	"github.com/mgrover/collabd/internal/config"
	"github.com/mgrover/collabd/internal/domain/lock"
	"github.com/mgrover/collabd/internal/domain/presence"
	"github.com/mgrover/collabd/internal/domain/typing"
	"github.com/mgrover/collabd/internal/hub"
	"github.com/mgrover/collabd/internal/mcp"
	"github.com/mgrover/collabd/internal/realtime"
	"github.com/mgrover/collabd/internal/sqlite"
	"github.com/mgrover/collabd/internal/transport"
	"github.com/mgrover/collabd/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := ensureDBDir(cfg.DB.Path); err != nil {
		logger.Error("failed to prepare database path", "error", err)
		os.Exit(1)
	}

	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runEmbeddedMigrations(db); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	clk := clock.System()
	registry := hub.NewRegistry(logger)
	presenceTracker := presence.NewTracker(clk)
	lockManager := lock.NewManager(clk, cfg.Realtime.LockTTL())
	typingTracker := typing.NewTracker(clk, cfg.Realtime.TypingTimeout())
	dispatcher := realtime.NewDispatcher(registry, presenceTracker, lockManager, typingTracker, logger)

	var serviceAuth func(http.Handler) http.Handler
	if cfg.Auth.ServiceKeys {
		serviceAuth = transport.ServiceAuthMiddleware(sqlite.NewServiceKeyRepository(db))
	}

	mcpServer := mcp.NewServer(mcp.Config{Realtime: dispatcher, Logger: logger})
	router := transport.NewServer(
		dispatcher,
		transport.NewClientAuthenticator(cfg.Auth.JWTSecret),
		serviceAuth,
		mcp.NewHTTPHandler(mcpServer),
		logger,
	)

	// Opportunistic expiry sweep; read paths stay correct without it.
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.Realtime.SweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				locksPurged, typingPurged := dispatcher.Sweep()
				if locksPurged > 0 || typingPurged > 0 {
					logger.Debug("expiry sweep", "locks", locksPurged, "typing", typingPurged)
				}
			case <-sweepDone:
				return
			}
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	waitForShutdown(logger, httpServer)
	close(sweepDone)
}

func runEmbeddedMigrations(db *sqlite.DB) error {
	data, err := migrations.FS.ReadFile("001_initial_schema.up.sql")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	if _, err := db.Exec(string(data)); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func waitForShutdown(logger *slog.Logger, server *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
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
