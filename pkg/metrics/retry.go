package metrics

import (
	"sync"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RetryMetrics records how many attempts retried operations took.
//
// A nil *RetryMetrics is valid and records nothing.
type RetryMetrics struct {
	attempts *prometheus.HistogramVec
}

var (
	defaultRetry     *RetryMetrics
	defaultRetryOnce sync.Once
)

// NewRetryMetrics returns the process-wide RetryMetrics, or nil if metrics
// are not enabled.
func NewRetryMetrics() *RetryMetrics {
	if !IsEnabled() {
		return nil
	}
	defaultRetryOnce.Do(func() {
		defaultRetry = NewRetryMetricsWith(GetRegistry())
	})
	return defaultRetry
}

// NewRetryMetricsWith registers the retry metrics on reg.
func NewRetryMetricsWith(reg prometheus.Registerer) *RetryMetrics {
	return &RetryMetrics{
		attempts: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "retry_attempts",
				Help:      "Attempts taken by retryable storage operations, first one included",
				Buckets:   []float64{1, 2, 3, 5, 8, 13},
			},
			[]string{"operation", "status"},
		),
	}
}

// ObserveAttempts records one finished call. It matches
// layers.RetryConfig.OnComplete.
func (m *RetryMetrics) ObserveAttempts(op storage.Operation, _ string, attempts int, err error) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(string(op), statusOf(err)).Observe(float64(attempts))
}
