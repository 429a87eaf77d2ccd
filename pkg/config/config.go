package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittostore/pkg/tracing"
	"github.com/spf13/viper"
)

// Config represents the complete dittostore configuration.
//
// This structure captures all configurable aspects of an operator process:
//   - Logging configuration
//   - Backend selection (scheme) and backend-specific options
//   - The layer stack wrapped around the backend
//   - The process-wide runtime used by asynchronous operations
//   - Metrics and tracing
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTOSTORE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each backend defines its own configuration type. Operator.Options holds
// the raw options of the selected scheme and is decoded into that type by
// the scheme's factory (see NewAccessor).
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Operator selects the backend and its options
	Operator OperatorConfig `mapstructure:"operator" yaml:"operator"`

	// Layers configures the layer stack around the backend
	Layers LayersConfig `mapstructure:"layers" yaml:"layers"`

	// Runtime configures the worker pool behind asynchronous operations
	Runtime RuntimeConfig `mapstructure:"runtime" yaml:"runtime"`

	// Metrics configures Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Tracing configures OpenTelemetry tracing
	Tracing tracing.Options `mapstructure:"tracing" yaml:"tracing"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`

	// Rotation of file output. Ignored for stdout/stderr.
	MaxSizeMB  int  `mapstructure:"max_size_mb" validate:"gte=0" yaml:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups" validate:"gte=0" yaml:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days" validate:"gte=0" yaml:"max_age_days"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// OperatorConfig selects the backend.
//
// The Scheme field determines which backend is built; Options are decoded
// into that backend's configuration type.
type OperatorConfig struct {
	// Scheme is the backend identifier
	// Valid values: see Schemes()
	Scheme string `mapstructure:"scheme" validate:"required" yaml:"scheme"`

	// Options are the backend-specific settings, e.g. root, bucket, path
	Options map[string]any `mapstructure:"options" yaml:"options"`
}

// LayersConfig configures the layer stack. Enabled layers are applied
// innermost first in this order: throttle, concurrency, retry, metrics,
// tracing, logging.
type LayersConfig struct {
	Throttle    ThrottleConfig    `mapstructure:"throttle" yaml:"throttle"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency" yaml:"concurrency"`
	Retry       RetryConfig       `mapstructure:"retry" yaml:"retry"`

	// Metrics reports every operation to Prometheus. Needs metrics.enabled.
	Metrics bool `mapstructure:"metrics" yaml:"metrics"`

	// Tracing opens a span per operation. Needs tracing.enabled.
	Tracing bool `mapstructure:"tracing" yaml:"tracing"`

	// Logging logs every operation at DEBUG and failures at WARN.
	Logging bool `mapstructure:"logging" yaml:"logging"`
}

// RetryConfig configures the retry layer.
type RetryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// MaxAttempts is the total number of attempts, first one included
	MaxAttempts int `mapstructure:"max_attempts" validate:"gte=0" yaml:"max_attempts"`

	// MaxDelay caps the exponential backoff
	MaxDelay time.Duration `mapstructure:"max_delay" validate:"gte=0" yaml:"max_delay"`

	// IdempotentWrites also retries write, delete, copy and rename
	IdempotentWrites bool `mapstructure:"idempotent_writes" yaml:"idempotent_writes"`
}

// ConcurrencyConfig configures the concurrency-limit layer.
type ConcurrencyConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Permits is the number of backend calls allowed in flight
	Permits int64 `mapstructure:"permits" validate:"gte=0" yaml:"permits"`
}

// ThrottleConfig configures the throttle layer.
type ThrottleConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Mode is "wait" (block until a token is free) or "reject" (fail with
	// RateLimited)
	Mode string `mapstructure:"mode" validate:"omitempty,oneof=wait reject" yaml:"mode"`

	// RequestsPerSecond and Burst define the bucket shared by every
	// operation without its own entry in Operations
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" validate:"gte=0" yaml:"burst"`

	// Operations gives single operations (read, write, list...) their own bucket
	Operations map[string]RateConfig `mapstructure:"operations" validate:"dive" yaml:"operations,omitempty"`
}

// RateConfig is one token bucket.
type RateConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" validate:"gte=0" yaml:"burst"`
}

// RuntimeConfig configures the process-wide runtime.
type RuntimeConfig struct {
	// Workers is the number of worker goroutines. 0 uses GOMAXPROCS.
	Workers int `mapstructure:"workers" validate:"gte=0" yaml:"workers"`

	// QueueSize is the number of tasks that may wait for a worker. 0 uses
	// 64 per worker.
	QueueSize int `mapstructure:"queue_size" validate:"gte=0" yaml:"queue_size"`

	// ShutdownTimeout is the maximum time to wait for queued tasks on shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled initializes the metrics registry
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Addr is the listen address of the metrics server, host:port
	Addr string `mapstructure:"addr" validate:"required" yaml:"addr"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOSTORE_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// envKeys are the settings that can be given through the environment
// without appearing in the configuration file. Viper only resolves
// environment variables for keys it knows about.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"operator.scheme",
	"runtime.workers",
	"metrics.enabled",
	"metrics.addr",
	"tracing.enabled",
	"tracing.endpoint",
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use DITTOSTORE_ prefix and underscores
	// Example: DITTOSTORE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/dittostore/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable - use defaults
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittostore")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittostore")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
