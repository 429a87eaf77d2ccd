// Package tracing configures OpenTelemetry for dittostore.
//
// Init installs a global tracer provider exporting over OTLP (gRPC or
// HTTP). Tracer returns the tracer the tracing layer records operation
// spans with. Without Init, or with tracing disabled, Tracer returns nil
// and layers.NewTracingLayer becomes a pass-through.
package tracing

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer name used for storage spans.
const InstrumentationName = "github.com/marmos91/dittostore"

// Options controls tracing initialization.
type Options struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint of the OTLP collector, host:port or URL. Empty keeps spans
	// in process.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Protocol is "grpc" (default) or "http".
	Protocol string `mapstructure:"protocol" validate:"omitempty,oneof=grpc http" yaml:"protocol"`

	// SampleRatio in [0, 1].
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1" yaml:"sample_ratio"`

	// ServiceName defaults to "dittostore".
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`

	// Exporter overrides the OTLP exporter. Used by tests.
	Exporter sdktrace.SpanExporter `json:"-" mapstructure:"-" yaml:"-"`
}

var enabled atomic.Bool

// Init configures OpenTelemetry tracing based on opt and sets the global
// providers. It returns a shutdown function that flushes pending spans.
func Init(ctx context.Context, opt Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	if !opt.Enabled {
		enabled.Store(false)
		return func(context.Context) error { return nil }, nil
	}

	svc := strings.TrimSpace(opt.ServiceName)
	if svc == "" {
		svc = "dittostore"
	}
	res, err := resource.New(ctx,
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(attribute.String("service.name", svc)),
	)
	if err != nil {
		logger.Warn("Tracing resource detection failed: %v", err)
		res = resource.NewSchemaless(attribute.String("service.name", svc))
	}

	exp := opt.Exporter
	if exp == nil && strings.TrimSpace(opt.Endpoint) != "" {
		exp, err = newExporter(ctx, opt)
		if err != nil {
			return nil, err
		}
	}
	if exp == nil {
		logger.Info("Tracing enabled without endpoint; spans will not be exported")
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(opt.SampleRatio)),
	}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	enabled.Store(true)
	logger.Debug("Tracing initialized: service=%s endpoint=%q protocol=%s ratio=%.2f",
		svc, opt.Endpoint, protocolOf(opt.Protocol), opt.SampleRatio)

	return func(ctx context.Context) error {
		enabled.Store(false)
		return tp.Shutdown(ctx)
	}, nil
}

// Tracer returns the storage tracer, or nil while tracing is disabled.
func Tracer() trace.Tracer {
	if !enabled.Load() {
		return nil
	}
	return otel.Tracer(InstrumentationName)
}

func newExporter(ctx context.Context, opt Options) (sdktrace.SpanExporter, error) {
	endpoint := stripScheme(opt.Endpoint)

	switch protocolOf(opt.Protocol) {
	case "http":
		httpOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if isInsecure(opt.Endpoint) {
			httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("otlp http exporter: %w", err)
		}
		return exp, nil
	default:
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if isInsecure(opt.Endpoint) {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("otlp grpc exporter: %w", err)
		}
		return exp, nil
	}
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1.0:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

func protocolOf(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "http", "otlphttp", "otlp-http":
		return "http"
	default:
		return "grpc"
	}
}

// isInsecure enables plaintext transport for http:// and loopback endpoints.
func isInsecure(endpoint string) bool {
	ep := strings.ToLower(strings.TrimSpace(endpoint))
	if strings.HasPrefix(ep, "http://") {
		return true
	}
	return strings.Contains(ep, "localhost") || strings.Contains(ep, "127.0.0.1")
}

// stripScheme removes an http(s):// prefix, which the OTLP clients reject.
func stripScheme(endpoint string) string {
	e := strings.TrimSpace(endpoint)
	for _, scheme := range []string{"http://", "https://"} {
		if strings.HasPrefix(strings.ToLower(e), scheme) {
			return e[len(scheme):]
		}
	}
	return e
}
