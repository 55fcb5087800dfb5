// Package main provides the diffscope API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kamilpajak/diffscope/internal/app"
	"github.com/kamilpajak/diffscope/internal/config"
	"github.com/kamilpajak/diffscope/internal/database"
)

func main() {
	var (
		configPath  = flag.String("config", getEnv("DIFFSCOPE_CONFIG", ""), "Path to a YAML config file")
		port        = flag.String("port", "", "Server port (overrides config)")
		migrateOnly = flag.Bool("migrate", false, "Run migrations and exit")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, *port, *migrateOnly, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, port string, migrateOnly bool, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Database.URL != "" {
		logger.Info("running database migrations")
		if err := database.Migrate(cfg.Database.URL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("migrations complete")
	} else if migrateOnly {
		return fmt.Errorf("DATABASE_URL is required to run migrations")
	}
	if migrateOnly {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Analyses run on their own context so shutdown can let them finish.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	a, err := app.New(workCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	handler, err := a.Handler(workCtx)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: event streams stay open for the whole analysis.
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", addr, "provider", cfg.Analysis.Provider, "history", a.DB != nil)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
