package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tails/api/internal/app"
	"tails/api/internal/session"
	"tails/api/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Apply migrations and run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		ctx := cmd.Context()

		dialect, err := store.ParseDialect(cfg.DatabaseDriver)
		if err != nil {
			return err
		}
		db, err := store.Open(ctx, dialect, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}

		dataStore := store.NewSQLStore(db, dialect, cfg.MaxTxRetries)
		service := app.New(cfg, dataStore, logger)
		if strings.TrimSpace(cfg.RedisURL) != "" {
			registry, err := session.NewRedisStore(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("redis connection failed: %w", err)
			}
			defer registry.Close()
			service.WithTokenRegistry(registry)
			logger.Info().Msg("using redis token registry")
		}

		httpServer := app.NewHTTPServer(service, cfg, logger)
		server := &http.Server{
			Addr:              cfg.Addr,
			Handler:           httpServer.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", cfg.Addr).Str("driver", string(dialect)).Msg("tails api listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
