package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// sectionComments documents every top-level section of a generated file.
var sectionComments = map[string]string{
	"logging":  "# Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr or a file path)",
	"operator": "# Backend selection. scheme is one of the registered schemes; options are backend-specific",
	"layers":   "# Layer stack around the backend, applied innermost first: throttle, concurrency, retry, metrics, tracing, logging",
	"runtime":  "# Worker pool behind asynchronous operations. workers: 0 uses GOMAXPROCS",
	"metrics":  "# Prometheus metrics served at http://<addr>/metrics",
	"tracing":  "# OpenTelemetry tracing exported over OTLP (grpc or http)",
}

// InitConfig writes the default configuration to the default location.
//
// Parameters:
//   - force: overwrite an existing file
//
// Returns the path written.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the default configuration to path, creating
// parent directories.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and one
// comment per section.
func generateYAMLWithComments(cfg *Config) ([]byte, error) {
	var root yaml.Node
	if err := root.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	formatDurations(&root, reflect.ValueOf(cfg).Elem())

	doc := yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "# dittostore Configuration File\n#\n# Environment variables override file values, e.g. DITTOSTORE_LOGGING_LEVEL=DEBUG",
		Content:     []*yaml.Node{&root},
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if c, ok := sectionComments[key.Value]; ok {
			key.HeadComment = c
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// formatDurations rewrites duration fields of the mapping node n, which
// encodes the struct v, from nanosecond integers to strings like "30s".
func formatDurations(n *yaml.Node, v reflect.Value) {
	if n.Kind != yaml.MappingNode || v.Kind() != reflect.Struct {
		return
	}

	fields := make(map[string]reflect.Value, v.NumField())
	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" || !f.IsExported() {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		fields[name] = v.Field(i)
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		fv, ok := fields[n.Content[i].Value]
		if !ok {
			continue
		}
		val := n.Content[i+1]
		if fv.Type() == durationType {
			val.Kind, val.Tag, val.Value = yaml.ScalarNode, "!!str", time.Duration(fv.Int()).String()
			continue
		}
		formatDurations(val, fv)
	}
}
