package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/config"
	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

type globalFlags struct {
	ConfigPath string
	Scheme     string
	Options    []string
	LogLevel   string
}

var flags = &globalFlags{}

// cfg is loaded once per invocation by the root PersistentPreRunE.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "dittostore",
	Short:         "Unified access to object stores, filesystems and key-value backends",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// init-config must work without a loadable configuration
		if cmd.Annotations["skip-config"] == "true" {
			return nil
		}
		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = loaded

		return logger.Configure(logger.Config{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			Output:     cfg.Logging.Output,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		})
	},
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print the version number of dittostore",
	Annotations: map[string]string{"skip-config": "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dittostore %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "", "Path to config file (default: $XDG_CONFIG_HOME/dittostore/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flags.Scheme, "scheme", "s", "", "Backend scheme, overrides operator.scheme")
	rootCmd.PersistentFlags().StringArrayVarP(&flags.Options, "option", "o", nil, "Backend option as key=value, repeatable")
	rootCmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
}

// Execute runs the root command and exits the process on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies the command line
// overrides on top of it.
func loadConfig() (*config.Config, error) {
	c, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, err
	}

	overridden := false
	if flags.Scheme != "" {
		if !strings.EqualFold(flags.Scheme, c.Operator.Scheme) {
			c.Operator.Options = map[string]any{}
		}
		c.Operator.Scheme = flags.Scheme
		overridden = true
	}
	if len(flags.Options) > 0 {
		opts, err := parseOptions(flags.Options)
		if err != nil {
			return nil, err
		}
		if c.Operator.Options == nil {
			c.Operator.Options = map[string]any{}
		}
		for k, v := range opts {
			c.Operator.Options[k] = v
		}
		overridden = true
	}
	if flags.LogLevel != "" {
		c.Logging.Level = flags.LogLevel
		overridden = true
	}

	if overridden {
		config.ApplyDefaults(c)
		if err := config.Validate(c); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return c, nil
}

func parseOptions(kvs []string) (map[string]string, error) {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid option %q: expected key=value", kv)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

// openOperator builds the configured operator. The caller closes it.
func openOperator(ctx context.Context) (*storage.Operator, error) {
	op, err := config.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Operator.Scheme, err)
	}
	return op, nil
}

// withOperator opens the operator, runs fn and closes the operator.
func withOperator(cmd *cobra.Command, fn func(ctx context.Context, op *storage.Operator) error) error {
	ctx := cmd.Context()
	op, err := openOperator(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := op.Close(); err != nil {
			logger.Warn("Failed to close operator: %v", err)
		}
	}()
	return fn(ctx, op)
}
