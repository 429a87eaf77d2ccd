package layers

import (
	"context"
	"errors"
	"io"

	"github.com/marmos91/dittostore/internal/ratelimiter"
	"github.com/marmos91/dittostore/pkg/storage"
)

// ThrottleLayer applies token-bucket rate limits per operation class.
//
// The bucket key is the operation name ("stat", "read", "write", ...), so
// a limiter built with per-key limits can throttle writes harder than
// reads. Opening a stream costs one token; reading from it is free. A
// batch costs one token per item, capped at the bucket's burst.
//
// In reject mode an empty bucket fails the call with a temporary
// RateLimited error, which a RetryLayer placed outside retries.
type ThrottleLayer struct {
	limiter *ratelimiter.RateLimiter
}

// NewThrottleLayer creates a ThrottleLayer over limiter.
func NewThrottleLayer(limiter *ratelimiter.RateLimiter) *ThrottleLayer {
	return &ThrottleLayer{limiter: limiter}
}

// Layer implements storage.Layer.
func (l *ThrottleLayer) Layer(inner storage.Accessor) storage.Accessor {
	return &throttleAccessor{Accessor: inner, l: l}
}

func (l *ThrottleLayer) acquire(ctx context.Context, op storage.Operation, path string, n int) error {
	err := l.limiter.AcquireN(ctx, string(op), n)
	if err == nil {
		return nil
	}
	if errors.Is(err, ratelimiter.ErrLimited) {
		return storage.NewError(storage.KindRateLimited, "request throttled").
			WithOperation(op).
			WithPath(path).
			SetTemporary().
			WithCause(err)
	}
	return storage.NewError(storage.KindUnexpected, "waiting for rate limiter").
		WithOperation(op).
		WithPath(path).
		WithCause(err)
}

type throttleAccessor struct {
	storage.Accessor
	l *ThrottleLayer
}

func (a *throttleAccessor) CreateDir(ctx context.Context, path string) error {
	if err := a.l.acquire(ctx, storage.OperationCreateDir, path, 1); err != nil {
		return err
	}
	return a.Accessor.CreateDir(ctx, path)
}

func (a *throttleAccessor) Stat(ctx context.Context, path string, opts storage.StatOptions) (storage.Metadata, error) {
	if err := a.l.acquire(ctx, storage.OperationStat, path, 1); err != nil {
		return storage.Metadata{}, err
	}
	return a.Accessor.Stat(ctx, path, opts)
}

func (a *throttleAccessor) Read(ctx context.Context, path string, opts storage.ReadOptions) (io.ReadCloser, error) {
	if err := a.l.acquire(ctx, storage.OperationRead, path, 1); err != nil {
		return nil, err
	}
	return a.Accessor.Read(ctx, path, opts)
}

func (a *throttleAccessor) Write(ctx context.Context, path string, opts storage.WriteOptions) (storage.Writer, error) {
	if err := a.l.acquire(ctx, storage.OperationWrite, path, 1); err != nil {
		return nil, err
	}
	return a.Accessor.Write(ctx, path, opts)
}

func (a *throttleAccessor) Delete(ctx context.Context, path string) error {
	if err := a.l.acquire(ctx, storage.OperationDelete, path, 1); err != nil {
		return err
	}
	return a.Accessor.Delete(ctx, path)
}

func (a *throttleAccessor) List(ctx context.Context, path string, opts storage.ListOptions) (storage.Lister, error) {
	if err := a.l.acquire(ctx, storage.OperationList, path, 1); err != nil {
		return nil, err
	}
	return a.Accessor.List(ctx, path, opts)
}

func (a *throttleAccessor) Copy(ctx context.Context, from, to string) error {
	if err := a.l.acquire(ctx, storage.OperationCopy, from, 1); err != nil {
		return err
	}
	return a.Accessor.Copy(ctx, from, to)
}

func (a *throttleAccessor) Rename(ctx context.Context, from, to string) error {
	if err := a.l.acquire(ctx, storage.OperationRename, from, 1); err != nil {
		return err
	}
	return a.Accessor.Rename(ctx, from, to)
}

func (a *throttleAccessor) Presign(ctx context.Context, path string, opts storage.PresignOptions) (storage.PresignedRequest, error) {
	if err := a.l.acquire(ctx, storage.OperationPresign, path, 1); err != nil {
		return storage.PresignedRequest{}, err
	}
	return a.Accessor.Presign(ctx, path, opts)
}

func (a *throttleAccessor) Batch(ctx context.Context, req storage.BatchRequest) ([]storage.BatchResult, error) {
	if err := a.l.acquire(ctx, storage.OperationBatch, "", len(req.Paths)); err != nil {
		return nil, err
	}
	return a.Accessor.Batch(ctx, req)
}
