package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP and WebSocket API server",
	Long: `Start the parser HTTP server on the configured port (default :8000).

On startup the infrastructure bootstrap runs once (failures are logged, not
fatal), the NATS subscriber is started and the poller begins its cycle. The
server shuts down cleanly on SIGTERM or SIGINT.`,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		if err := app.Close(context.Background()); err != nil {
			slog.Warn("shutdown completed with errors", "err", err)
		}
	}()

	bootCtx, cancel := context.WithTimeout(ctx, cfg.Bootstrap.Timeout)
	if res, err := app.orchestrator.RunBootstrap(bootCtx); err != nil {
		slog.Warn("startup bootstrap not run", "err", err)
	} else if !app.orchestrator.IsReady() {
		slog.Warn("startup bootstrap completed with errors", "status", res.Status)
	}
	cancel()

	if app.publisher != nil {
		if err := app.publisher.Connect(ctx); err != nil {
			slog.Warn("nats publisher not connected, will retry on first event", "err", err)
		}
	}
	if app.subscriber != nil {
		if err := app.subscriber.Start(ctx); err != nil {
			slog.Warn("nats subscriber not started", "err", err)
		}
	}
	if cfg.Poller.Enabled {
		app.poller.Start(ctx)
		slog.Info("poller started", "interval", cfg.Poller.Interval)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start the server in a goroutine so we can listen for shutdown signals.
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("parser server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutCtx, cancelShut := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShut()

	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped cleanly")
	return nil
}
