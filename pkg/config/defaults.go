package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittostore/pkg/storage/services/fs"
	"github.com/marmos91/dittostore/pkg/storage/services/memory"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by the backends themselves
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyOperatorDefaults(&cfg.Operator)
	applyLayersDefaults(&cfg.Layers)
	applyRuntimeDefaults(&cfg.Runtime)
	applyMetricsDefaults(&cfg.Metrics)
	applyTracingDefaults(cfg)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 100
	}
}

// applyOperatorDefaults selects the filesystem backend when nothing is
// configured.
func applyOperatorDefaults(cfg *OperatorConfig) {
	if cfg.Scheme == "" {
		cfg.Scheme = fs.Scheme
		if cfg.Options == nil {
			cfg.Options = map[string]any{"root": "/tmp/dittostore"}
		}
	}
	cfg.Scheme = strings.ToLower(cfg.Scheme)
	if cfg.Options == nil {
		cfg.Options = make(map[string]any)
	}
}

// applyLayersDefaults fills in the parameters of every layer, enabled or
// not, so a generated config file shows them.
func applyLayersDefaults(cfg *LayersConfig) {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 20 * time.Second
	}
	if cfg.Concurrency.Permits == 0 {
		cfg.Concurrency.Permits = 64
	}
	if cfg.Throttle.Mode == "" {
		cfg.Throttle.Mode = "wait"
	}
}

// applyRuntimeDefaults sets runtime defaults. Workers stays 0 (GOMAXPROCS).
func applyRuntimeDefaults(cfg *RuntimeConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Addr == "" {
		cfg.Addr = ":9090"
	}
}

func applyTracingDefaults(cfg *Config) {
	if cfg.Tracing.Protocol == "" {
		cfg.Tracing.Protocol = "grpc"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "dittostore"
	}
	// Zero cannot be told apart from unset; use a tiny ratio to sample almost nothing.
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 1
	}
}

// GetDefaultConfig returns a Config with all default values applied.
//
// The default operator is an in-memory backend, so the configuration is
// valid without touching the filesystem.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Operator: OperatorConfig{
			Scheme:  memory.Scheme,
			Options: map[string]any{"root": "/"},
		},
		Layers: LayersConfig{
			Retry:   RetryConfig{Enabled: true},
			Logging: true,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
