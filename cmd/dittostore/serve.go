package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/config"
	"github.com/marmos91/dittostore/pkg/metrics"
	"github.com/marmos91/dittostore/pkg/runtime"
	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the storage runtime and expose metrics and health endpoints",
	Long: `Starts the process-wide worker runtime, opens the configured backend with
its layer stack and serves /metrics and /healthz until interrupted.

The health check probes the backend root through the runtime, so a stuck
backend or a saturated worker pool reports unhealthy.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger.Info("dittostore %s starting", Version)
	logger.Info("Backend: %s", cfg.Operator.Scheme)

	// Step 1: observability, before the layers that report into it
	checks := map[string]metrics.HealthCheck{}
	obs, err := config.InitializeObservability(ctx, cfg, checks)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}

	// Step 2: runtime
	if err := runtime.Init(cfg.Runtime.RuntimeOptions()); err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	rt, err := runtime.Default()
	if err != nil {
		return err
	}
	if metrics.IsEnabled() {
		if err := metrics.RegisterRuntime(rt); err != nil {
			logger.Warn("Failed to register runtime metrics: %v", err)
		}
	}
	logger.Info("Runtime started with %d workers", rt.Workers())

	// Step 3: operator
	op, err := config.Build(ctx, cfg)
	if err != nil {
		shutdownRuntime(cfg)
		return fmt.Errorf("failed to open %s backend: %w", cfg.Operator.Scheme, err)
	}
	checks["operator"] = probeRoot(op, rt)

	info := op.Info()
	logger.Info("Operator ready: scheme=%s root=%s", info.Scheme, info.Root)

	// Step 4: metrics server
	serverDone := make(chan error, 1)
	if obs.Server != nil {
		go func() {
			serverDone <- obs.Server.Start(ctx)
		}()
		logger.Info("Metrics available at %s/metrics", cfg.Metrics.Addr)
	}

	logger.Info("Running. Press Ctrl+C to stop.")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case serveErr = <-serverDone:
		if serveErr != nil {
			logger.Error("Metrics server error: %v", serveErr)
		}
	}

	// Step 5: teardown in reverse order
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Runtime.ShutdownTimeout)
	defer cancel()

	if obs.Server != nil {
		if err := obs.Server.Stop(stopCtx); err != nil {
			logger.Warn("Metrics server shutdown error: %v", err)
		}
	}
	shutdownRuntime(cfg)
	if err := op.Close(); err != nil {
		logger.Warn("Failed to close operator: %v", err)
	}
	if err := obs.ShutdownTracing(stopCtx); err != nil {
		logger.Warn("Tracing shutdown error: %v", err)
	}

	logger.Info("Stopped")
	return serveErr
}

func shutdownRuntime(cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Runtime.ShutdownTimeout)
	defer cancel()
	if err := runtime.Shutdown(ctx); err != nil {
		logger.Warn("Runtime shutdown error: %v", err)
	}
}

// probeRoot reports the backend healthy when the first entry of its root
// can be listed on the runtime.
func probeRoot(op *storage.Operator, ex storage.Executor) metrics.HealthCheck {
	return func(ctx context.Context) error {
		start := time.Now()
		_, err := storage.Submit(ctx, ex, func(ctx context.Context) (struct{}, error) {
			lister, err := op.List(ctx, "/", storage.ListOptions{Limit: 1})
			if err != nil {
				return struct{}{}, err
			}
			defer func() { _ = lister.Close() }()
			if _, err := lister.Next(ctx); err != nil && !errors.Is(err, io.EOF) {
				return struct{}{}, err
			}
			return struct{}{}, nil
		}).Wait(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			err = nil
		}
		logger.Debug("Health probe finished in %v: err=%v", time.Since(start), err)
		return err
	}
}
