package metrics

import (
	"sync"
	"time"

	"github.com/marmos91/dittostore/pkg/storage/services/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// s3Metrics is the Prometheus implementation of s3.S3Metrics interface.
//
// This implementation collects metrics about S3 requests including:
//   - Request counts (GetObject, PutObject, etc.)
//   - Request latency
//   - Bytes transferred
//   - Multipart upload lifecycle
type s3Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	multipartUploads  *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
}

var (
	defaultS3     s3.S3Metrics
	defaultS3Once sync.Once
)

// NewS3Metrics creates a new Prometheus-backed S3Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// causes the S3 accessor to use the built-in no-op implementation.
func NewS3Metrics() s3.S3Metrics {
	if !IsEnabled() {
		return nil
	}
	defaultS3Once.Do(func() {
		defaultS3 = NewS3MetricsWith(GetRegistry())
	})
	return defaultS3
}

// NewS3MetricsWith registers the S3 metrics on reg.
func NewS3MetricsWith(reg prometheus.Registerer) s3.S3Metrics {
	return &s3Metrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "s3_operations_total",
				Help:      "Total number of S3 requests by operation type and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "s3_operation_duration_seconds",
				Help:      "Duration of S3 requests in seconds",
				Buckets: []float64{
					0.01,  // 10ms
					0.025, // 25ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1.0,   // 1s
					2.5,   // 2.5s
					5.0,   // 5s
					10.0,  // 10s
					30.0,  // 30s
				},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "s3_bytes_transferred_total",
				Help:      "Total bytes transferred in S3 requests",
			},
			[]string{"operation"},
		),
		multipartUploads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "s3_multipart_uploads_total",
				Help:      "Total number of S3 multipart uploads by status",
			},
			[]string{"status"}, // initiated, completed, aborted
		),
		errorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "s3_errors_total",
				Help:      "Total number of S3 request errors by operation and error kind",
			},
			[]string{"operation", "kind"},
		),
	}
}

// ObserveOperation implements s3.S3Metrics.ObserveOperation
func (m *s3Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.errorsTotal.WithLabelValues(operation, statusOf(err)).Inc()
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBytes implements s3.S3Metrics.RecordBytes
func (m *s3Metrics) RecordBytes(operation string, bytes int64) {
	m.bytesTransferred.WithLabelValues(operation).Add(float64(bytes))
}

// RecordMultipartUpload implements s3.S3Metrics.RecordMultipartUpload
func (m *s3Metrics) RecordMultipartUpload(status string) {
	m.multipartUploads.WithLabelValues(status).Inc()
}
