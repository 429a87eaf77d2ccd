package config

import (
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/internal/ratelimiter"
	"github.com/marmos91/dittostore/pkg/metrics"
	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/marmos91/dittostore/pkg/storage/layers"
	"github.com/marmos91/dittostore/pkg/tracing"
)

// BuildLayers returns the enabled layers of cfg, innermost first:
// throttle, concurrency, retry, metrics, tracing, logging.
//
// The metrics and tracing layers are no-ops unless metrics.InitRegistry and
// tracing.Init ran before (see InitializeObservability).
func BuildLayers(cfg *Config) ([]storage.Layer, error) {
	lc := cfg.Layers
	var stack []storage.Layer

	if lc.Throttle.Enabled {
		limiter, err := buildLimiter(lc.Throttle)
		if err != nil {
			return nil, err
		}
		stack = append(stack, layers.NewThrottleLayer(limiter))
	}
	if lc.Concurrency.Enabled {
		stack = append(stack, layers.NewConcurrentLimitLayer(lc.Concurrency.Permits))
	}
	if lc.Retry.Enabled {
		retryMetrics := metrics.NewRetryMetrics()
		stack = append(stack, layers.NewRetryLayer(layers.RetryConfig{
			MaxAttempts:      lc.Retry.MaxAttempts,
			MaxDelay:         lc.Retry.MaxDelay,
			IdempotentWrites: lc.Retry.IdempotentWrites,
			OnComplete: func(op storage.Operation, path string, attempts int, err error) {
				if attempts > 1 {
					logger.Debug("Retried %s %s: attempts=%d, err=%v", op, path, attempts, err)
				}
				retryMetrics.ObserveAttempts(op, path, attempts, err)
			},
		}))
	}
	if lc.Metrics {
		if !metrics.IsEnabled() {
			logger.Warn("Metrics layer enabled but metrics collection is disabled")
		}
		stack = append(stack, layers.NewMetricsLayer(metrics.NewStorageMetrics()))
	}
	if lc.Tracing {
		stack = append(stack, layers.NewTracingLayer(tracing.Tracer()))
	}
	if lc.Logging {
		stack = append(stack, layers.NewLoggingLayer())
	}

	logger.Debug("Layer stack: %d layers", len(stack))
	return stack, nil
}

func buildLimiter(cfg ThrottleConfig) (*ratelimiter.RateLimiter, error) {
	mode, err := ratelimiter.ParseMode(cfg.Mode)
	if err != nil {
		return nil, storage.NewError(storage.KindConfigInvalid, "layers.throttle.mode").WithCause(err)
	}

	perOp := make(map[string]ratelimiter.Limit, len(cfg.Operations))
	for op, rc := range cfg.Operations {
		if !isOperation(op) {
			return nil, storage.NewError(storage.KindConfigInvalid, "layers.throttle.operations: unknown operation %q", op)
		}
		perOp[op] = ratelimiter.Limit{RequestsPerSecond: rc.RequestsPerSecond, Burst: rc.Burst}
	}

	fallback := ratelimiter.Limit{RequestsPerSecond: cfg.RequestsPerSecond, Burst: cfg.Burst}
	return ratelimiter.New(mode, fallback, perOp), nil
}

var throttledOperations = []storage.Operation{
	storage.OperationCreateDir,
	storage.OperationStat,
	storage.OperationRead,
	storage.OperationWrite,
	storage.OperationDelete,
	storage.OperationList,
	storage.OperationCopy,
	storage.OperationRename,
	storage.OperationPresign,
	storage.OperationBatch,
}

func isOperation(name string) bool {
	for _, op := range throttledOperations {
		if string(op) == name {
			return true
		}
	}
	return false
}
