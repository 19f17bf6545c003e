package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stwalsh4118/airwave/internal/config"
	"github.com/stwalsh4118/airwave/internal/db"
	"github.com/stwalsh4118/airwave/internal/logger"
	"github.com/stwalsh4118/airwave/internal/server"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long:  "Runs database migrations, seeds the configured default station and serves the catalog, player and metrics endpoints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger.Init(cfg.Logging.Level, cfg.Logging.Pretty)

		if dir := filepath.Dir(cfg.Database.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}

		database, err := db.Open(cfg.Database.Path, db.Options{
			PingTimeout: cfg.Database.ConnectionTimeout,
			EnableWAL:   cfg.Database.EnableWAL,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				logger.Log.Warn().Err(err).Msg("Failed to close database")
			}
		}()

		sqlDB, err := database.GetSQLDB()
		if err != nil {
			return err
		}
		if err := db.RunMigrations(sqlDB, cfg.Database.MigrationsPath); err != nil {
			return err
		}

		srv, err := server.New(cfg, database)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if configPath != "" {
			config.WatchFile(configPath, func(next *config.Config, err error) {
				if err != nil {
					logger.Log.Warn().Err(err).Str("path", configPath).Msg("Ignoring invalid config change")
					return
				}
				if err := srv.ReloadDefaultStation(ctx, &next.Player); err != nil {
					logger.Log.Error().Err(err).Msg("Failed to apply config change")
				}
			})
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(ctx)
		}()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				_ = srv.Shutdown(context.Background())
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
