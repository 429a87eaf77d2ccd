package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	expectedSections := []string{
		"# dittostore Configuration File",
		"logging:",
		"operator:",
		"layers:",
		"runtime:",
		"metrics:",
		"tracing:",
		"# Backend selection.",
		"shutdown_timeout: 30s",
		"max_delay: 20s",
	}
	for _, section := range expectedSections {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	// Verify the generated file is valid YAML
	var raw map[string]any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}
	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestInitConfigToPath_ForceOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := InitConfigToPath(path, true); err != nil {
		t.Fatalf("InitConfigToPath with force failed: %v", err)
	}
	content, _ := os.ReadFile(path)
	if string(content) == "old" {
		t.Error("Config file was not overwritten")
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Generated config failed to load: %v", err)
	}

	want := GetDefaultConfig()
	if cfg.Operator.Scheme != want.Operator.Scheme {
		t.Errorf("Scheme mismatch: got %q, want %q", cfg.Operator.Scheme, want.Operator.Scheme)
	}
	if cfg.Runtime.ShutdownTimeout != want.Runtime.ShutdownTimeout {
		t.Errorf("ShutdownTimeout mismatch: got %v, want %v", cfg.Runtime.ShutdownTimeout, want.Runtime.ShutdownTimeout)
	}
	if cfg.Layers.Retry.MaxDelay != want.Layers.Retry.MaxDelay {
		t.Errorf("Retry max_delay mismatch: got %v, want %v", cfg.Layers.Retry.MaxDelay, want.Layers.Retry.MaxDelay)
	}
	if !cfg.Layers.Retry.Enabled {
		t.Error("Expected retry layer enabled in generated config")
	}
}
