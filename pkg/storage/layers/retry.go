package layers

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/marmos91/dittostore/pkg/storage"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 3
	DefaultMaxDelay    = retry.DefaultMaxBackoff
)

// BackoffFunc adapts a function to retry.BackoffDelayer.
type BackoffFunc func(attempt int, err error) (time.Duration, error)

func (f BackoffFunc) BackoffDelay(attempt int, err error) (time.Duration, error) {
	return f(attempt, err)
}

// RetryConfig configures a RetryLayer.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, first one included.
	MaxAttempts int

	// MaxDelay caps the exponential backoff with jitter. Ignored when
	// Backoff is set.
	MaxDelay time.Duration

	// Backoff computes the delay before the next attempt. Defaults to the
	// AWS SDK's exponential jitter backoff capped at MaxDelay.
	Backoff retry.BackoffDelayer

	// IdempotentWrites also retries write, delete, copy and rename. Only
	// safe when repeating them cannot change the outcome, e.g. for
	// content-addressed paths.
	IdempotentWrites bool

	// OnRetry, when set, is called before every backoff sleep.
	OnRetry func(op storage.Operation, path string, attempt int, err error, delay time.Duration)

	// OnComplete, when set, is called once per retryable call when it ends,
	// with the cumulative number of attempts it took. err is nil on
	// success.
	OnComplete func(op storage.Operation, path string, attempts int, err error)
}

// RetryLayer retries operations failing with temporary errors.
//
// Stat, read, list (open and every Next), presign and create_dir are
// retried; write, delete, copy and rename only with IdempotentWrites.
// Batch is never retried as a whole since items may have succeeded.
// Reads are retried when opening the stream, not mid-stream.
//
// Non-temporary errors are returned at once. When the attempts are
// exhausted the last error is returned with its kind unchanged and
// storage.Attempts reporting the attempt count.
type RetryLayer struct {
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryLayer creates a RetryLayer, filling unset fields with defaults.
func NewRetryLayer(cfg RetryConfig) *RetryLayer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.NewExponentialJitterBackoff(cfg.MaxDelay)
	}
	return &RetryLayer{cfg: cfg, sleep: sleepContext}
}

// Layer implements storage.Layer.
func (l *RetryLayer) Layer(inner storage.Accessor) storage.Accessor {
	return &retryAccessor{Accessor: inner, l: l}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// do runs fn until it succeeds, fails permanently or runs out of attempts.
func (l *RetryLayer) do(ctx context.Context, op storage.Operation, path string, fn func() error) error {
	attempts, err := l.attempt(ctx, op, path, fn)
	if l.cfg.OnComplete != nil {
		l.cfg.OnComplete(op, path, attempts, err)
	}
	return err
}

func (l *RetryLayer) attempt(ctx context.Context, op storage.Operation, path string, fn func() error) (int, error) {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !storage.IsTemporary(err) {
			return attempt, err
		}
		if attempt >= l.cfg.MaxAttempts {
			return attempt, storage.WithAttempts(err, attempt)
		}

		delay, derr := l.cfg.Backoff.BackoffDelay(attempt, err)
		if derr != nil {
			return attempt, storage.WithAttempts(err, attempt)
		}
		if l.cfg.OnRetry != nil {
			l.cfg.OnRetry(op, path, attempt, err, delay)
		}
		if serr := l.sleep(ctx, delay); serr != nil {
			return attempt, storage.WithAttempts(err, attempt)
		}
	}
}

func retryValue[T any](ctx context.Context, l *RetryLayer, op storage.Operation, path string, fn func() (T, error)) (T, error) {
	var out T
	err := l.do(ctx, op, path, func() error {
		v, err := fn()
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

type retryAccessor struct {
	storage.Accessor
	l *RetryLayer
}

func (a *retryAccessor) CreateDir(ctx context.Context, path string) error {
	return a.l.do(ctx, storage.OperationCreateDir, path, func() error {
		return a.Accessor.CreateDir(ctx, path)
	})
}

func (a *retryAccessor) Stat(ctx context.Context, path string, opts storage.StatOptions) (storage.Metadata, error) {
	return retryValue(ctx, a.l, storage.OperationStat, path, func() (storage.Metadata, error) {
		return a.Accessor.Stat(ctx, path, opts)
	})
}

func (a *retryAccessor) Read(ctx context.Context, path string, opts storage.ReadOptions) (io.ReadCloser, error) {
	return retryValue(ctx, a.l, storage.OperationRead, path, func() (io.ReadCloser, error) {
		return a.Accessor.Read(ctx, path, opts)
	})
}

func (a *retryAccessor) Write(ctx context.Context, path string, opts storage.WriteOptions) (storage.Writer, error) {
	if !a.l.cfg.IdempotentWrites {
		return a.Accessor.Write(ctx, path, opts)
	}
	return retryValue(ctx, a.l, storage.OperationWrite, path, func() (storage.Writer, error) {
		return a.Accessor.Write(ctx, path, opts)
	})
}

func (a *retryAccessor) Delete(ctx context.Context, path string) error {
	if !a.l.cfg.IdempotentWrites {
		return a.Accessor.Delete(ctx, path)
	}
	return a.l.do(ctx, storage.OperationDelete, path, func() error {
		return a.Accessor.Delete(ctx, path)
	})
}

func (a *retryAccessor) List(ctx context.Context, path string, opts storage.ListOptions) (storage.Lister, error) {
	inner, err := retryValue(ctx, a.l, storage.OperationList, path, func() (storage.Lister, error) {
		return a.Accessor.List(ctx, path, opts)
	})
	if err != nil {
		return nil, err
	}
	return &retryLister{Lister: inner, l: a.l, path: path}, nil
}

func (a *retryAccessor) Copy(ctx context.Context, from, to string) error {
	if !a.l.cfg.IdempotentWrites {
		return a.Accessor.Copy(ctx, from, to)
	}
	return a.l.do(ctx, storage.OperationCopy, from, func() error {
		return a.Accessor.Copy(ctx, from, to)
	})
}

func (a *retryAccessor) Rename(ctx context.Context, from, to string) error {
	if !a.l.cfg.IdempotentWrites {
		return a.Accessor.Rename(ctx, from, to)
	}
	return a.l.do(ctx, storage.OperationRename, from, func() error {
		return a.Accessor.Rename(ctx, from, to)
	})
}

func (a *retryAccessor) Presign(ctx context.Context, path string, opts storage.PresignOptions) (storage.PresignedRequest, error) {
	return retryValue(ctx, a.l, storage.OperationPresign, path, func() (storage.PresignedRequest, error) {
		return a.Accessor.Presign(ctx, path, opts)
	})
}

// retryLister retries Next. Page listers keep their position on a failed
// fetch, so the retry refetches the same page.
type retryLister struct {
	storage.Lister
	l    *RetryLayer
	path string
}

func (r *retryLister) Next(ctx context.Context) (storage.Entry, error) {
	return retryValue(ctx, r.l, storage.OperationListerNext, r.path, func() (storage.Entry, error) {
		return r.Lister.Next(ctx)
	})
}
