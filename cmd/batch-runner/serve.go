package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/batch-api-runner/internal/server"
	"github.com/Sternrassler/batch-api-runner/pkg/logging"
)

func newServeCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		Long: `Start the HTTP service.

Endpoints:
  GET  /health       liveness (and Redis, when configured)
  GET  /metrics      Prometheus metrics
  POST /v1/batches   run a batch over the CSV request body

Ctrl+C (SIGINT) or SIGTERM shuts the server down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, *cfgFile)
		},
	}

	cmd.Flags().String("listen", ":8080", "listen address")
	return cmd
}

func serve(cmd *cobra.Command, cfgFile string) error {
	cfg, err := loadConfig(cmd, cfgFile)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(logging.ComponentCLI)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	reporter, redisReporter, closeReporter := newReporter(ctx, cfg)
	defer closeReporter()

	opts := []server.Option{server.WithReporter(reporter)}
	if cat != nil {
		opts = append(opts, server.WithCatalog(cat))
	}
	if redisReporter != nil {
		opts = append(opts, server.WithHealthChecker("redis", redisReporter))
	}

	srv, err := server.New(cfg, opts...)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Dur("timeout", cfg.Server.ShutdownTimeout).Msg("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("HTTP server stopped gracefully")
	return nil
}
