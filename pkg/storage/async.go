package storage

import (
	"context"
	"sync"
)

// Executor runs tasks for an AsyncOperator. pkg/runtime provides the
// process-wide implementation; InlineExecutor runs tasks on the caller's
// goroutine.
type Executor interface {
	// Execute schedules fn. It returns an error when the executor no longer
	// accepts work.
	Execute(fn func()) error
}

// InlineExecutor runs every task synchronously.
type InlineExecutor struct{}

func (InlineExecutor) Execute(fn func()) error {
	fn()
	return nil
}

// Future is the pending result of an asynchronous operation.
//
// Cancel stops the operation from consuming further backend resources as
// soon as it observes its context; remote side effects already committed
// are not rolled back.
type Future[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc

	mu    sync.Mutex
	value T
	err   error
}

// Submit schedules fn on ex and returns its Future. fn receives a context
// derived from ctx that Future.Cancel cancels.
func Submit[T any](ctx context.Context, ex Executor, fn func(ctx context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := &Future[T]{done: make(chan struct{}), cancel: cancel}

	run := func() {
		defer cancel()
		v, err := fn(ctx)
		f.complete(v, err)
	}
	if err := ex.Execute(run); err != nil {
		var zero T
		cancel()
		f.complete(zero, NewError(KindUnexpected, "executor rejected task").WithCause(err))
	}
	return f
}

func (f *Future[T]) complete(v T, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	select {
	case <-f.done:
		return
	default:
	}
	f.value, f.err = v, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Cancel requests cancellation of the operation.
func (f *Future[T]) Cancel() { f.cancel() }

// Wait blocks until the result is available or ctx is done. Returning
// because of ctx does not cancel the operation.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// AsyncOperator runs Operator calls on an Executor and returns Futures.
// Operator itself is the blocking variant of the same logic.
type AsyncOperator struct {
	op *Operator
	ex Executor
}

// NewAsyncOperator wraps op.
func NewAsyncOperator(op *Operator, ex Executor) *AsyncOperator {
	return &AsyncOperator{op: op, ex: ex}
}

// Blocking returns the underlying Operator.
func (a *AsyncOperator) Blocking() *Operator { return a.op }

func (a *AsyncOperator) Info() OperatorInfo { return a.op.Info() }

func (a *AsyncOperator) Stat(ctx context.Context, path string, opts StatOptions) *Future[Metadata] {
	return Submit(ctx, a.ex, func(ctx context.Context) (Metadata, error) {
		return a.op.StatWithOptions(ctx, path, opts)
	})
}

func (a *AsyncOperator) Read(ctx context.Context, path string, opts ReadOptions) *Future[[]byte] {
	return Submit(ctx, a.ex, func(ctx context.Context) ([]byte, error) {
		return a.op.ReadWithOptions(ctx, path, opts)
	})
}

func (a *AsyncOperator) Write(ctx context.Context, path string, data []byte, opts WriteOptions) *Future[struct{}] {
	return Submit(ctx, a.ex, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.op.WriteWithOptions(ctx, path, data, opts)
	})
}

func (a *AsyncOperator) Delete(ctx context.Context, path string) *Future[struct{}] {
	return Submit(ctx, a.ex, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.op.Delete(ctx, path)
	})
}

func (a *AsyncOperator) List(ctx context.Context, path string, opts ListOptions) *Future[[]Entry] {
	return Submit(ctx, a.ex, func(ctx context.Context) ([]Entry, error) {
		return a.op.ListAll(ctx, path, opts)
	})
}

func (a *AsyncOperator) CreateDir(ctx context.Context, path string) *Future[struct{}] {
	return Submit(ctx, a.ex, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.op.CreateDir(ctx, path)
	})
}

func (a *AsyncOperator) Copy(ctx context.Context, from, to string) *Future[struct{}] {
	return Submit(ctx, a.ex, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.op.Copy(ctx, from, to)
	})
}

func (a *AsyncOperator) Rename(ctx context.Context, from, to string) *Future[struct{}] {
	return Submit(ctx, a.ex, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.op.Rename(ctx, from, to)
	})
}

func (a *AsyncOperator) Presign(ctx context.Context, path string, opts PresignOptions) *Future[PresignedRequest] {
	return Submit(ctx, a.ex, func(ctx context.Context) (PresignedRequest, error) {
		return a.op.Presign(ctx, path, opts)
	})
}

func (a *AsyncOperator) Batch(ctx context.Context, paths []string) *Future[[]BatchResult] {
	return Submit(ctx, a.ex, func(ctx context.Context) ([]BatchResult, error) {
		return a.op.Batch(ctx, paths)
	})
}
