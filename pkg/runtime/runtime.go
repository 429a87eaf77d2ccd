// Package runtime provides the worker pool that executes asynchronous
// storage operations.
//
// A process has one runtime, created by Init and torn down by Shutdown,
// each called exactly once by the host integration layer. The storage
// package never creates a runtime: AsyncOperator takes any
// storage.Executor, and *Runtime is the production one.
package runtime

import (
	"context"
	"errors"
	"fmt"
	goruntime "runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/storage"
)

var (
	// ErrShutdown is returned when work is submitted to a runtime that is
	// shutting down, and by a second Shutdown.
	ErrShutdown = errors.New("runtime is shut down")

	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("runtime already initialized")

	// ErrNotInitialized is returned when the process runtime is used
	// before Init.
	ErrNotInitialized = errors.New("runtime not initialized")
)

// Options configures a Runtime.
type Options struct {
	// Workers is the number of worker goroutines. Default: GOMAXPROCS.
	Workers int `mapstructure:"workers" validate:"omitempty,gte=1,lte=4096"`

	// QueueSize is the number of tasks that may wait for a worker before
	// Execute blocks. Default: 64 per worker.
	QueueSize int `mapstructure:"queue_size" validate:"omitempty,gte=1"`

	// LockOSThread pins every worker to its own OS thread, so per-thread
	// state attached by OnWorkerStart stays valid for the worker's life.
	LockOSThread bool `mapstructure:"lock_os_thread"`

	// OnWorkerStart runs once on each worker before it takes its first
	// task. Host bindings attach the worker thread to their environment
	// here rather than on every call.
	OnWorkerStart func(worker int) `mapstructure:"-"`

	// OnWorkerStop runs once on each worker after its last task.
	OnWorkerStop func(worker int) `mapstructure:"-"`
}

// Runtime is a fixed pool of workers consuming a bounded task queue.
//
// Thread Safety:
// Safe for concurrent use. Tasks must not block waiting for other tasks of
// the same runtime, or a full pool can deadlock.
type Runtime struct {
	workers int
	tasks   chan func()

	mu     sync.RWMutex
	closed bool

	wg      sync.WaitGroup
	done    chan struct{}
	running atomic.Int64
	panics  atomic.Int64
}

// New starts a runtime with the given options.
func New(opts Options) *Runtime {
	workers := opts.Workers
	if workers <= 0 {
		workers = goruntime.GOMAXPROCS(0)
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = workers * 64
	}

	r := &Runtime{
		workers: workers,
		tasks:   make(chan func(), queueSize),
		done:    make(chan struct{}),
	}

	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.worker(i, opts)
	}
	go func() {
		r.wg.Wait()
		close(r.done)
	}()

	logger.Debug("Runtime started: workers=%d, queue=%d", workers, queueSize)
	return r
}

func (r *Runtime) worker(id int, opts Options) {
	defer r.wg.Done()

	if opts.LockOSThread {
		goruntime.LockOSThread()
		defer goruntime.UnlockOSThread()
	}
	if opts.OnWorkerStart != nil {
		opts.OnWorkerStart(id)
	}
	if opts.OnWorkerStop != nil {
		defer opts.OnWorkerStop(id)
	}

	for fn := range r.tasks {
		r.run(id, fn)
	}
}

// run executes one task. A panicking task is logged and does not take
// the worker down.
func (r *Runtime) run(worker int, fn func()) {
	r.running.Add(1)
	defer r.running.Add(-1)
	defer func() {
		if v := recover(); v != nil {
			r.panics.Add(1)
			logger.Error("Runtime worker %d: task panicked: %v", worker, v)
		}
	}()
	fn()
}

// Execute implements storage.Executor. It blocks while the queue is full.
func (r *Runtime) Execute(fn func()) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrShutdown
	}
	r.tasks <- fn
	return nil
}

// Workers returns the number of workers.
func (r *Runtime) Workers() int { return r.workers }

// Stats is a point-in-time view of a runtime.
type Stats struct {
	Workers int
	Queued  int
	Running int
	Panics  int64
}

// Stats returns the current queue and worker usage.
func (r *Runtime) Stats() Stats {
	return Stats{
		Workers: r.workers,
		Queued:  len(r.tasks),
		Running: int(r.running.Load()),
		Panics:  r.panics.Load(),
	}
}

// Shutdown stops accepting tasks and waits until every queued task has
// run, or ctx is done. Tasks still running when ctx expires keep running
// in the background.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrShutdown
	}
	r.closed = true
	close(r.tasks)
	r.mu.Unlock()

	start := time.Now()
	select {
	case <-r.done:
		logger.Debug("Runtime stopped in %v", time.Since(start))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("runtime shutdown: %w", ctx.Err())
	}
}

// Task is the handle of a spawned task: Wait, Cancel and Done.
type Task[T any] = storage.Future[T]

// Spawn runs fn on r and returns its Task. A panic in fn completes the
// task with an Unexpected error.
func Spawn[T any](ctx context.Context, r *Runtime, fn func(ctx context.Context) (T, error)) *Task[T] {
	return storage.Submit(ctx, r, func(ctx context.Context) (v T, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = storage.NewError(storage.KindUnexpected, "task panicked: %v", p)
			}
		}()
		return fn(ctx)
	})
}

var _ storage.Executor = (*Runtime)(nil)
