package metrics

import (
	"sync"
	"time"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/marmos91/dittostore/pkg/storage/layers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storageMetrics is the Prometheus implementation of layers.Metrics.
//
// Every series carries the backend scheme, so one instance serves all
// operators of the process.
type storageMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTotal        *prometheus.CounterVec
}

var (
	defaultStorage     layers.Metrics
	defaultStorageOnce sync.Once
)

// NewStorageMetrics returns the process-wide Prometheus-backed
// layers.Metrics registered on the global registry.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// turns layers.MetricsLayer into a pass-through. Repeated calls return the
// same instance.
func NewStorageMetrics() layers.Metrics {
	if !IsEnabled() {
		return nil
	}
	defaultStorageOnce.Do(func() {
		defaultStorage = NewStorageMetricsWith(GetRegistry())
	})
	return defaultStorage
}

// NewStorageMetricsWith registers the storage metrics on reg.
func NewStorageMetricsWith(reg prometheus.Registerer) layers.Metrics {
	return &storageMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "operations_total",
				Help:      "Total number of storage operations by scheme, operation and status",
			},
			[]string{"scheme", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of storage operations in seconds",
				Buckets:   latencyBuckets,
			},
			[]string{"scheme", "operation"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "bytes_total",
				Help:      "Bytes moved by read and write streams, entries produced by listers",
			},
			[]string{"scheme", "operation"},
		),
	}
}

// ObserveOperation implements layers.Metrics.
func (m *storageMetrics) ObserveOperation(scheme string, op storage.Operation, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(scheme, string(op), statusOf(err)).Inc()
	m.operationDuration.WithLabelValues(scheme, string(op)).Observe(duration.Seconds())
}

// RecordBytes implements layers.Metrics.
func (m *storageMetrics) RecordBytes(scheme string, op storage.Operation, n int64) {
	m.bytesTotal.WithLabelValues(scheme, string(op)).Add(float64(n))
}
