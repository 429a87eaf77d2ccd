package config

import (
	"context"

	"github.com/marmos91/dittostore/pkg/metrics"
	"github.com/marmos91/dittostore/pkg/runtime"
	"github.com/marmos91/dittostore/pkg/tracing"
)

// ObservabilityResult contains the components created from the metrics and
// tracing sections.
type ObservabilityResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// ShutdownTracing flushes pending spans. Never nil.
	ShutdownTracing func(context.Context) error
}

// InitializeObservability initializes metrics and tracing from cfg. It must
// run before Build so that the metrics and tracing layers are live.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server, with checks probing each operator
//
// If metrics are disabled, Server is nil and the metrics layer is a
// pass-through.
func InitializeObservability(ctx context.Context, cfg *Config, checks map[string]metrics.HealthCheck) (*ObservabilityResult, error) {
	res := &ObservabilityResult{}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		res.Server = metrics.NewServer(metrics.ServerConfig{
			Addr:   cfg.Metrics.Addr,
			Checks: checks,
		})
	}

	shutdown, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	res.ShutdownTracing = shutdown
	return res, nil
}

// RuntimeOptions converts the runtime section into runtime.Options.
func (c RuntimeConfig) RuntimeOptions() runtime.Options {
	return runtime.Options{
		Workers:   c.Workers,
		QueueSize: c.QueueSize,
	}
}
