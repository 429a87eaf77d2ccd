// Package metrics provides Prometheus metrics collection for dittostore.
//
// All metrics are optional - if not initialized, constructors return nil and
// consumers fall back to no-op behavior with zero overhead. This allows
// operators to run with or without metrics collection enabled.
//
// Usage:
//
//	// Initialize global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	// Create metrics instances for components
//	op.Layer(layers.NewMetricsLayer(metrics.NewStorageMetrics()))
//	cfg.Metrics = metrics.NewS3Metrics()
//
//	// Or pass nil for no-op behavior
//	op.Layer(layers.NewMetricsLayer(nil))
package metrics

import (
	"errors"
	"sync"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "dittostore"

var (
	// registry is the global Prometheus registry for all dittostore metrics.
	// Protected by registryOnce for write-once, read-many pattern.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// This must be called before creating any metrics instances. It's safe to call
// multiple times - subsequent calls are ignored.
//
// If not called, GetRegistry() will return nil and all metrics constructors
// will return nil.
//
// Thread safety:
// sync.Once provides the necessary memory barriers to ensure the registry
// write is visible to all subsequent reads.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global Prometheus registry.
//
// Returns nil if InitRegistry() has not been called, indicating metrics
// are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if metrics collection is enabled.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// statusOf returns the status label for err: "success", or the error kind
// name.
func statusOf(err error) string {
	if err == nil {
		return "success"
	}
	var serr *storage.Error
	if errors.As(err, &serr) {
		return serr.Kind.String()
	}
	return storage.KindUnexpected.String()
}

// latencyBuckets covers a fast local backend up to a slow multipart upload.
var latencyBuckets = []float64{
	0.0001, // 100µs
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	2.5,    // 2.5s
	5.0,    // 5s
	10.0,   // 10s
	30.0,   // 30s
}
