package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configPath
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: "info"

operator:
  scheme: "memory"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Runtime.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Runtime.ShutdownTimeout)
	}
	if cfg.Layers.Retry.MaxAttempts != 3 {
		t.Errorf("Expected default retry max_attempts 3, got %d", cfg.Layers.Retry.MaxAttempts)
	}
	if cfg.Metrics.Addr != ":9090" {
		t.Errorf("Expected default metrics addr ':9090', got %q", cfg.Metrics.Addr)
	}
}

func TestLoad_BackendOptions(t *testing.T) {
	configPath := writeConfig(t, `
operator:
  scheme: "redis"
  options:
    addr: "cache:6379"
    ttl: "10m"
    page_size: 500

layers:
  retry:
    enabled: true
    max_delay: "5s"
  throttle:
    enabled: true
    requests_per_second: 100
    operations:
      write:
        requests_per_second: 10
        burst: 10
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Operator.Scheme != "redis" {
		t.Errorf("Expected scheme 'redis', got %q", cfg.Operator.Scheme)
	}
	if cfg.Operator.Options["addr"] != "cache:6379" {
		t.Errorf("Expected addr option, got %v", cfg.Operator.Options["addr"])
	}
	if cfg.Layers.Retry.MaxDelay != 5*time.Second {
		t.Errorf("Expected retry max_delay 5s, got %v", cfg.Layers.Retry.MaxDelay)
	}
	if got := cfg.Layers.Throttle.Operations["write"].Burst; got != 10 {
		t.Errorf("Expected write burst 10, got %d", got)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Point the default location at an empty directory so the user's own
	// config is never read.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load without config file should succeed, got: %v", err)
	}
	if cfg.Operator.Scheme != "fs" {
		t.Errorf("Expected default scheme 'fs', got %q", cfg.Operator.Scheme)
	}
	if cfg.Operator.Options["root"] != "/tmp/dittostore" {
		t.Errorf("Expected default fs root, got %v", cfg.Operator.Options["root"])
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: "INFO"
  format: [this is not valid
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for invalid YAML, got nil")
	}
}

func TestLoad_UnknownScheme(t *testing.T) {
	configPath := writeConfig(t, `
operator:
  scheme: "ftp"
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for unknown scheme, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	configContent := `
[logging]
level = "DEBUG"
format = "json"

[operator]
scheme = "memory"

[operator.options]
page_size = 10
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	if got := GetDefaultConfigPath(); got != filepath.Join("/xdg", "dittostore", "config.yaml") {
		t.Errorf("Unexpected default config path %q", got)
	}
	if filepath.Base(GetConfigDir()) != "dittostore" {
		t.Errorf("Expected directory name 'dittostore', got %q", filepath.Base(GetConfigDir()))
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in an empty directory")
	}
	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if !ConfigExists() {
		t.Fatal("Expected config to exist after InitConfig")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DITTOSTORE_LOGGING_LEVEL", "ERROR")
	t.Setenv("DITTOSTORE_RUNTIME_WORKERS", "7")

	configPath := writeConfig(t, `
logging:
  level: "INFO"

operator:
  scheme: "memory"

runtime:
  workers: 2
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify environment variables override config file
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Runtime.Workers != 7 {
		t.Errorf("Expected workers 7 from env var, got %d", cfg.Runtime.Workers)
	}
}
