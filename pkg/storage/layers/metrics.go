package layers

import (
	"context"
	"time"

	"github.com/marmos91/dittostore/pkg/storage"
)

// Metrics receives per-operation observations. pkg/metrics provides the
// Prometheus implementation.
type Metrics interface {
	// ObserveOperation records one finished call. err is nil on success.
	ObserveOperation(scheme string, op storage.Operation, duration time.Duration, err error)

	// RecordBytes records bytes moved by a read or write stream, or entries
	// produced by a lister.
	RecordBytes(scheme string, op storage.Operation, n int64)
}

// MetricsLayer reports every operation to a Metrics implementation. A nil
// Metrics turns the layer into a pass-through.
type MetricsLayer struct {
	metrics Metrics
	scheme  string
}

// NewMetricsLayer creates a MetricsLayer.
func NewMetricsLayer(m Metrics) *MetricsLayer {
	return &MetricsLayer{metrics: m}
}

// Layer implements storage.Layer.
func (l *MetricsLayer) Layer(inner storage.Accessor) storage.Accessor {
	if l.metrics == nil {
		return inner
	}
	return &instrumented{Accessor: inner, p: &MetricsLayer{metrics: l.metrics, scheme: inner.Info().Scheme}}
}

func (l *MetricsLayer) begin(ctx context.Context, op storage.Operation, _ string) (context.Context, func(int64, error)) {
	start := time.Now()
	return ctx, func(n int64, err error) {
		if err == errAborted {
			err = nil
		}
		l.metrics.ObserveOperation(l.scheme, op, time.Since(start), err)
		if n > 0 && op != storage.OperationBatch {
			l.metrics.RecordBytes(l.scheme, op, n)
		}
	}
}
