package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/garagechat/internal/app"
	"github.com/ent0n29/garagechat/internal/config"
	"github.com/ent0n29/garagechat/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, logger := setupLogger(ctx, cfg.LogLevel, cfg.LogFormat)

		built, err := app.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := built.Cleanup(); err != nil {
				logger.Error().Err(err).Msg("cleanup failed")
			}
		}()

		httpServer := &http.Server{
			Addr:              cfg.BindAddr(),
			Handler:           built.API.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		// Shutdown ignores hijacked connections; close websockets ourselves.
		httpServer.RegisterOnShutdown(built.API.CloseConnections)

		errCh := make(chan error, 1)
		go func() {
			logging.FromCtx(ctx).Info().
				Str("addr", cfg.BindAddr()).
				Str("store", built.Store).
				Bool("completion_api", built.Responder.Enabled()).
				Msg("server listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("listen error: %w", err)
			}
		case <-ctx.Done():
			logger.Info().Msg("shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("graceful shutdown failed")
			_ = httpServer.Close()
		}
		if err := built.API.WaitConnections(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("websocket handlers still running at shutdown deadline")
		}
		logger.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
