package layers_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/internal/ratelimiter"
	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/marmos91/dittostore/pkg/storage/layers"
	"github.com/marmos91/dittostore/pkg/storage/services/memory"
	storagetesting "github.com/marmos91/dittostore/pkg/storage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newCounting(tweak func(c *storage.Capability)) *storagetesting.CountingAccessor {
	mem := memory.New(memory.Config{})
	c := mem.Info().Capability
	if tweak != nil {
		tweak(&c)
	}
	return storagetesting.NewCountingAccessor(mem).WithCapability(c)
}

func noBackoff() layers.RetryConfig {
	return layers.RetryConfig{
		Backoff: layers.BackoffFunc(func(int, error) (time.Duration, error) { return 0, nil }),
	}
}

func temporary() error {
	return storage.NewError(storage.KindRateLimited, "slow down").SetTemporary()
}

// ============================================================================
// Retry
// ============================================================================

func TestRetry_SucceedsAfterTemporaryFailures(t *testing.T) {
	ctx := context.Background()
	fake := newCounting(nil)
	cfg := noBackoff()

	attempts := make(map[storage.Operation]int)
	cfg.OnComplete = func(op storage.Operation, _ string, n int, err error) {
		if err == nil {
			attempts[op] = n
		}
	}
	op := storage.NewOperator(fake).Layer(layers.NewRetryLayer(cfg))
	require.NoError(t, op.Write(ctx, "f", []byte("hello")))

	fake.FailNext(storage.OperationStat, temporary(), temporary())

	md, err := op.Stat(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, int64(5), md.ContentLength())
	assert.Equal(t, 3, fake.Calls(storage.OperationStat))
	assert.Equal(t, 3, attempts[storage.OperationStat], "success is reported with every attempt counted")
}

func TestRetry_ExhaustedKeepsKindAndCountsAttempts(t *testing.T) {
	ctx := context.Background()
	fake := newCounting(nil)
	cfg := noBackoff()
	cfg.MaxAttempts = 4

	var retried []int
	cfg.OnRetry = func(_ storage.Operation, _ string, attempt int, _ error, _ time.Duration) {
		retried = append(retried, attempt)
	}
	op := storage.NewOperator(fake).Layer(layers.NewRetryLayer(cfg))

	fake.FailNext(storage.OperationStat, temporary(), temporary(), temporary(), temporary())

	_, err := op.Stat(ctx, "f")
	require.Error(t, err)
	assert.Equal(t, storage.KindRateLimited, storage.KindOf(err))
	assert.Equal(t, 4, storage.Attempts(err))
	assert.False(t, storage.IsTemporary(err), "spent errors are not retryable any more")
	assert.Equal(t, 4, fake.Calls(storage.OperationStat))
	assert.Equal(t, []int{1, 2, 3}, retried)
}

func TestRetry_PermanentErrorIsNotRetried(t *testing.T) {
	ctx := context.Background()
	fake := newCounting(nil)
	op := storage.NewOperator(fake).Layer(layers.NewRetryLayer(noBackoff()))

	_, err := op.Stat(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, storage.KindNotFound, storage.KindOf(err))
	assert.Equal(t, 1, fake.Calls(storage.OperationStat))
	assert.Zero(t, storage.Attempts(err))
}

func TestRetry_WritesOnlyWhenIdempotent(t *testing.T) {
	ctx := context.Background()

	t.Run("Default", func(t *testing.T) {
		fake := newCounting(nil)
		op := storage.NewOperator(fake).Layer(layers.NewRetryLayer(noBackoff()))
		fake.FailNext(storage.OperationWrite, temporary())

		err := op.Write(ctx, "f", []byte("x"))
		require.Error(t, err)
		assert.Equal(t, 1, fake.Calls(storage.OperationWrite))
	})

	t.Run("Idempotent", func(t *testing.T) {
		fake := newCounting(nil)
		cfg := noBackoff()
		cfg.IdempotentWrites = true
		op := storage.NewOperator(fake).Layer(layers.NewRetryLayer(cfg))
		fake.FailNext(storage.OperationWrite, temporary())

		require.NoError(t, op.Write(ctx, "f", []byte("x")))
		assert.Equal(t, 2, fake.Calls(storage.OperationWrite))
	})
}

func TestRetry_ListerNext(t *testing.T) {
	ctx := context.Background()
	fake := newCounting(nil)
	op := storage.NewOperator(fake).Layer(layers.NewRetryLayer(noBackoff()))
	for i := range 3 {
		require.NoError(t, op.Write(ctx, "d/"+string(rune('a'+i)), []byte("x")))
	}

	fake.FailNext(storage.OperationList, temporary())
	entries, err := op.ListAll(ctx, "d/", storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, 2, fake.Calls(storage.OperationList))
}

// ============================================================================
// Concurrency limit
// ============================================================================

func TestConcurrentLimit_BoundsInFlightCalls(t *testing.T) {
	ctx := context.Background()
	fake := newCounting(nil)
	op := storage.NewOperator(fake).Layer(layers.NewConcurrentLimitLayer(2))
	require.NoError(t, op.Write(ctx, "f", []byte("x")))

	fake.SetHook(func(context.Context, storage.Operation, string) {
		time.Sleep(20 * time.Millisecond)
	})

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := op.Stat(ctx, "f")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, fake.MaxInFlight(), 2)
	assert.Equal(t, 6, fake.Calls(storage.OperationStat))
}

func TestConcurrentLimit_StreamHoldsPermitUntilClosed(t *testing.T) {
	ctx := context.Background()
	fake := newCounting(nil)
	op := storage.NewOperator(fake).Layer(layers.NewConcurrentLimitLayer(1))
	require.NoError(t, op.Write(ctx, "f", []byte("x")))

	r, err := op.Reader(ctx, "f", storage.ReadOptions{})
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = op.Stat(short, "f")
	require.Error(t, err, "the open reader owns the only permit")

	require.NoError(t, r.Close())
	_, err = op.Stat(ctx, "f")
	require.NoError(t, err)
}

func TestConcurrentLimit_NestedEmulationDoesNotDeadlock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fake := newCounting(func(c *storage.Capability) {
		c.Copy = false
		c.Rename = false
	})
	op := storage.NewOperator(fake).Layer(layers.NewConcurrentLimitLayer(1))
	require.NoError(t, op.Write(ctx, "src", []byte("payload")))

	require.NoError(t, op.Copy(ctx, "src", "copy"))
	require.NoError(t, op.Rename(ctx, "copy", "moved"))

	data, err := op.Read(ctx, "moved")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, 1, fake.Calls(storage.OperationDelete))
}

func TestConcurrentLimit_ListCompletionDoesNotDeadlock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fake := newCounting(nil)
	op := storage.NewOperator(fake).Layer(layers.NewConcurrentLimitLayer(1))
	require.NoError(t, op.Write(ctx, "d/a", []byte("x")))
	require.NoError(t, op.Write(ctx, "d/b", []byte("yy")))

	entries, err := op.ListAll(ctx, "d/", storage.ListOptions{Metakey: storage.MetakeyComplete})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[1].Metadata().ContentLength())

	// The permit is back once the lister is drained.
	_, err = op.Stat(ctx, "d/a")
	require.NoError(t, err)
}

func TestConcurrentLimit_ExhaustedListerReleasesPermit(t *testing.T) {
	ctx := context.Background()
	fake := newCounting(nil)
	op := storage.NewOperator(fake).Layer(layers.NewConcurrentLimitLayer(1))
	require.NoError(t, op.Write(ctx, "d/a", []byte("x")))

	l, err := op.List(ctx, "d/", storage.ListOptions{})
	require.NoError(t, err)
	for {
		_, err := l.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	// No Close: reaching the end of the listing gives the permit back.
	short, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	_, err = op.Stat(short, "d/a")
	require.NoError(t, err)
	assert.Equal(t, 0, fake.InFlight())

	require.NoError(t, l.Close())
}

// ============================================================================
// Throttle
// ============================================================================

func TestThrottle_RejectModeIsTemporaryRateLimited(t *testing.T) {
	ctx := context.Background()
	fake := newCounting(nil)
	reject := ratelimiter.New(ratelimiter.ModeReject, ratelimiter.Limit{}, map[string]ratelimiter.Limit{
		"stat": {RequestsPerSecond: 0.001, Burst: 1},
	})

	op := storage.NewOperator(fake).Layer(layers.NewThrottleLayer(reject))
	require.NoError(t, op.Write(ctx, "f", []byte("x")), "writes have no dedicated bucket")

	_, err := op.Stat(ctx, "f")
	require.NoError(t, err)

	_, err = op.Stat(ctx, "f")
	require.Error(t, err)
	assert.Equal(t, storage.KindRateLimited, storage.KindOf(err))
	assert.True(t, storage.IsTemporary(err))
	assert.Equal(t, 1, fake.Calls(storage.OperationStat), "throttled calls never reach the backend")
}

func TestThrottle_WaitModeHonoursContext(t *testing.T) {
	fake := newCounting(nil)
	limiter := ratelimiter.New(ratelimiter.ModeWait, ratelimiter.Limit{RequestsPerSecond: 0.001, Burst: 1}, nil)
	op := storage.NewOperator(fake).Layer(layers.NewThrottleLayer(limiter))

	require.NoError(t, op.Write(context.Background(), "f", []byte("x")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := op.Stat(ctx, "f")
	require.Error(t, err)
	assert.Equal(t, 0, fake.Calls(storage.OperationStat))
}

// ============================================================================
// Observability
// ============================================================================

type recordedOp struct {
	op  storage.Operation
	err error
}

type fakeMetrics struct {
	mu    sync.Mutex
	ops   []recordedOp
	bytes map[storage.Operation]int64
}

func (m *fakeMetrics) ObserveOperation(_ string, op storage.Operation, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, recordedOp{op: op, err: err})
}

func (m *fakeMetrics) RecordBytes(_ string, op storage.Operation, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bytes == nil {
		m.bytes = make(map[storage.Operation]int64)
	}
	m.bytes[op] += n
}

func TestMetrics_ObservesOperationsAndBytes(t *testing.T) {
	ctx := context.Background()
	m := &fakeMetrics{}
	op := storage.NewOperator(memory.New(memory.Config{})).Layer(layers.NewMetricsLayer(m))

	require.NoError(t, op.Write(ctx, "f", []byte("hello")))
	data, err := op.Read(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
	_, err = op.Stat(ctx, "missing")
	require.Error(t, err)

	require.Len(t, m.ops, 3)
	assert.Equal(t, storage.OperationWrite, m.ops[0].op)
	assert.NoError(t, m.ops[0].err)
	assert.Equal(t, storage.OperationRead, m.ops[1].op)
	assert.Equal(t, storage.OperationStat, m.ops[2].op)
	assert.Equal(t, storage.KindNotFound, storage.KindOf(m.ops[2].err))

	assert.Equal(t, int64(5), m.bytes[storage.OperationWrite])
	assert.Equal(t, int64(5), m.bytes[storage.OperationRead])
}

func TestMetrics_NilIsPassThrough(t *testing.T) {
	mem := memory.New(memory.Config{})
	assert.Same(t, storage.Accessor(mem), layers.NewMetricsLayer(nil).Layer(mem))
	assert.Same(t, storage.Accessor(mem), layers.NewTracingLayer(nil).Layer(mem))
}

func TestLogging_DoesNotChangeResults(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	logger.SetOutput(&buf, "json")
	logger.SetLevel("DEBUG")
	t.Cleanup(func() {
		logger.SetOutput(&bytes.Buffer{}, "text")
		logger.SetLevel("INFO")
	})

	op := storage.NewOperator(memory.New(memory.Config{})).Layer(layers.NewLoggingLayer())

	require.NoError(t, op.Write(ctx, "f", []byte("hello")))
	data, err := op.Read(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	_, err = op.Stat(ctx, "missing")
	assert.Equal(t, storage.KindNotFound, storage.KindOf(err))

	out := buf.String()
	assert.Contains(t, out, `"operation":"write"`)
	assert.Contains(t, out, `"scheme":"memory"`)
	assert.Contains(t, out, `"kind":"NotFound"`)
	assert.NotContains(t, out, `"level":"warn"`, "NotFound is not worth a warning")
}

func TestTracing_RecordsSpans(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	op := storage.NewOperator(memory.New(memory.Config{})).
		Layer(layers.NewTracingLayer(provider.Tracer("test")))

	require.NoError(t, op.Write(ctx, "f", []byte("hello")))
	_, err := op.Stat(ctx, "missing")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "storage.write", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, "storage.stat", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
