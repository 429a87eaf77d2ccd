package layers

import (
	"context"

	"github.com/marmos91/dittostore/pkg/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingLayer opens one span per operation. Streaming operations end
// their span when the stream is closed.
type TracingLayer struct {
	tracer trace.Tracer
	scheme string
}

// NewTracingLayer creates a TracingLayer. A nil tracer disables it.
func NewTracingLayer(tracer trace.Tracer) *TracingLayer {
	return &TracingLayer{tracer: tracer}
}

// Layer implements storage.Layer.
func (l *TracingLayer) Layer(inner storage.Accessor) storage.Accessor {
	if l.tracer == nil {
		return inner
	}
	return &instrumented{Accessor: inner, p: &TracingLayer{tracer: l.tracer, scheme: inner.Info().Scheme}}
}

func (l *TracingLayer) begin(ctx context.Context, op storage.Operation, path string) (context.Context, func(int64, error)) {
	ctx, span := l.tracer.Start(ctx, "storage."+string(op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("storage.scheme", l.scheme),
			attribute.String("storage.operation", string(op)),
			attribute.String("storage.path", path),
		),
	)
	return ctx, func(n int64, err error) {
		if n > 0 {
			span.SetAttributes(attribute.Int64("storage.count", n))
		}
		if err != nil && err != errAborted {
			span.RecordError(err)
			span.SetAttributes(attribute.String("storage.error_kind", storage.KindOf(err).String()))
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
