package layers

import (
	"context"
	"io"
	"sync"

	"github.com/marmos91/dittostore/pkg/storage"
	"golang.org/x/sync/semaphore"
)

// ConcurrentLimitLayer bounds the number of in-flight operations.
//
// Calls beyond the limit block until a permit frees or their context ends.
// Streams (readers, writers, listers) hold their permit until closed.
//
// Nested calls never wait on a permit their caller already holds:
//   - a call made with a context this layer already admitted bypasses the
//     gate
//   - calls made within a storage.Scope (the Operator opens one for
//     emulated copy and rename) share one permit, held until the scope
//     closes
type ConcurrentLimitLayer struct {
	sem     *semaphore.Weighted
	permits int64
}

// NewConcurrentLimitLayer creates a layer admitting at most permits
// concurrent operations.
func NewConcurrentLimitLayer(permits int64) *ConcurrentLimitLayer {
	if permits <= 0 {
		permits = 1
	}
	return &ConcurrentLimitLayer{sem: semaphore.NewWeighted(permits), permits: permits}
}

// Permits returns the configured limit.
func (l *ConcurrentLimitLayer) Permits() int64 { return l.permits }

// Layer implements storage.Layer.
func (l *ConcurrentLimitLayer) Layer(inner storage.Accessor) storage.Accessor {
	return &concurrentAccessor{Accessor: inner, l: l}
}

type admittedKey struct{ l *ConcurrentLimitLayer }

func noop() {}

// admit acquires a permit for one call. The returned context marks the
// call as admitted; release must be called exactly once when the call (or
// its stream) ends.
func (l *ConcurrentLimitLayer) admit(ctx context.Context) (context.Context, func(), error) {
	key := admittedKey{l}
	if ctx.Value(key) != nil {
		return ctx, noop, nil
	}

	acquire := func() (func(), error) {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, storage.NewError(storage.KindUnexpected, "waiting for a concurrency permit").WithCause(err)
		}
		var once sync.Once
		return func() { once.Do(func() { l.sem.Release(1) }) }, nil
	}

	if scope := storage.ScopeFrom(ctx); scope != nil {
		if err := scope.Hold(l, acquire); err != nil {
			return nil, nil, err
		}
		return context.WithValue(ctx, key, true), noop, nil
	}

	release, err := acquire()
	if err != nil {
		return nil, nil, err
	}
	return context.WithValue(ctx, key, true), release, nil
}

type concurrentAccessor struct {
	storage.Accessor
	l *ConcurrentLimitLayer
}

func (a *concurrentAccessor) CreateDir(ctx context.Context, path string) error {
	ctx, release, err := a.l.admit(ctx)
	if err != nil {
		return err
	}
	defer release()
	return a.Accessor.CreateDir(ctx, path)
}

func (a *concurrentAccessor) Stat(ctx context.Context, path string, opts storage.StatOptions) (storage.Metadata, error) {
	ctx, release, err := a.l.admit(ctx)
	if err != nil {
		return storage.Metadata{}, err
	}
	defer release()
	return a.Accessor.Stat(ctx, path, opts)
}

func (a *concurrentAccessor) Read(ctx context.Context, path string, opts storage.ReadOptions) (io.ReadCloser, error) {
	ctx, release, err := a.l.admit(ctx)
	if err != nil {
		return nil, err
	}
	rc, err := a.Accessor.Read(ctx, path, opts)
	if err != nil {
		release()
		return nil, err
	}
	return observeReader(rc, func(int64, error) { release() }), nil
}

func (a *concurrentAccessor) Write(ctx context.Context, path string, opts storage.WriteOptions) (storage.Writer, error) {
	ctx, release, err := a.l.admit(ctx)
	if err != nil {
		return nil, err
	}
	w, err := a.Accessor.Write(ctx, path, opts)
	if err != nil {
		release()
		return nil, err
	}
	return observeWriter(w, func(int64, error) { release() }), nil
}

func (a *concurrentAccessor) Delete(ctx context.Context, path string) error {
	ctx, release, err := a.l.admit(ctx)
	if err != nil {
		return err
	}
	defer release()
	return a.Accessor.Delete(ctx, path)
}

func (a *concurrentAccessor) List(ctx context.Context, path string, opts storage.ListOptions) (storage.Lister, error) {
	ctx, release, err := a.l.admit(ctx)
	if err != nil {
		return nil, err
	}
	lister, err := a.Accessor.List(ctx, path, opts)
	if err != nil {
		release()
		return nil, err
	}
	return observeLister(lister, func(int64, error) { release() }), nil
}

func (a *concurrentAccessor) Copy(ctx context.Context, from, to string) error {
	ctx, release, err := a.l.admit(ctx)
	if err != nil {
		return err
	}
	defer release()
	return a.Accessor.Copy(ctx, from, to)
}

func (a *concurrentAccessor) Rename(ctx context.Context, from, to string) error {
	ctx, release, err := a.l.admit(ctx)
	if err != nil {
		return err
	}
	defer release()
	return a.Accessor.Rename(ctx, from, to)
}

func (a *concurrentAccessor) Presign(ctx context.Context, path string, opts storage.PresignOptions) (storage.PresignedRequest, error) {
	ctx, release, err := a.l.admit(ctx)
	if err != nil {
		return storage.PresignedRequest{}, err
	}
	defer release()
	return a.Accessor.Presign(ctx, path, opts)
}

func (a *concurrentAccessor) Batch(ctx context.Context, req storage.BatchRequest) ([]storage.BatchResult, error) {
	ctx, release, err := a.l.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return a.Accessor.Batch(ctx, req)
}
