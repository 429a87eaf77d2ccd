package tracing

import (
	"context"
	"testing"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/marmos91/dittostore/pkg/storage/layers"
	"github.com/marmos91/dittostore/pkg/storage/services/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{})
	require.NoError(t, err)
	assert.Nil(t, Tracer())
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_ExportsStorageSpans(t *testing.T) {
	ctx := context.Background()
	exp := tracetest.NewInMemoryExporter()

	shutdown, err := Init(ctx, Options{Enabled: true, SampleRatio: 1, Exporter: exp})
	require.NoError(t, err)

	tracer := Tracer()
	require.NotNil(t, tracer)

	op := storage.NewOperator(memory.New(memory.Config{})).Layer(layers.NewTracingLayer(tracer))
	require.NoError(t, op.Write(ctx, "traced", []byte("x")))
	_, err = op.Stat(ctx, "missing")
	require.Error(t, err)

	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	require.True(t, ok)
	require.NoError(t, tp.ForceFlush(ctx))
	spans := exp.GetSpans()

	require.NoError(t, shutdown(ctx))
	assert.Nil(t, Tracer())

	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "storage.write")
	assert.Contains(t, names, "storage.stat")
}

func TestEndpointHelpers(t *testing.T) {
	assert.Equal(t, "collector:4317", stripScheme("http://collector:4317"))
	assert.Equal(t, "collector:4318", stripScheme(" HTTPS://collector:4318"))
	assert.Equal(t, "collector:4317", stripScheme("collector:4317"))

	assert.True(t, isInsecure("http://collector:4317"))
	assert.True(t, isInsecure("localhost:4317"))
	assert.False(t, isInsecure("https://collector:4317"))

	assert.Equal(t, "http", protocolOf("otlp-http"))
	assert.Equal(t, "grpc", protocolOf(""))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", sampler(1).Description())
	assert.Equal(t, "AlwaysOffSampler", sampler(0).Description())
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}
