package testing

import (
	"context"
	"io"
	"sync"

	"github.com/marmos91/dittostore/pkg/storage"
)

// Hook runs at the start of every call of a CountingAccessor, while the
// call is counted as in flight.
type Hook func(ctx context.Context, op storage.Operation, path string)

// CountingAccessor wraps an Accessor, counts calls per operation and can
// inject failures. Streams returned by Read, Write and List count as in
// flight until closed.
type CountingAccessor struct {
	inner storage.Accessor
	info  storage.AccessorInfo

	mu          sync.Mutex
	calls       map[storage.Operation]int
	faults      map[storage.Operation][]error
	hook        Hook
	inFlight    int
	maxInFlight int
}

// NewCountingAccessor wraps inner.
func NewCountingAccessor(inner storage.Accessor) *CountingAccessor {
	return &CountingAccessor{
		inner:  inner,
		info:   inner.Info(),
		calls:  make(map[storage.Operation]int),
		faults: make(map[storage.Operation][]error),
	}
}

// WithCapability overrides the reported native capability.
func (a *CountingAccessor) WithCapability(c storage.Capability) *CountingAccessor {
	a.info.Capability = c
	return a
}

// FailNext makes the next len(errs) calls of op return errs in order.
func (a *CountingAccessor) FailNext(op storage.Operation, errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.faults[op] = append(a.faults[op], errs...)
}

// SetHook installs fn.
func (a *CountingAccessor) SetHook(fn Hook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hook = fn
}

// Calls returns how often op was called.
func (a *CountingAccessor) Calls(op storage.Operation) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

// TotalCalls returns the number of calls across all operations.
func (a *CountingAccessor) TotalCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, n := range a.calls {
		total += n
	}
	return total
}

// InFlight returns the number of calls and streams currently open.
func (a *CountingAccessor) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight
}

// MaxInFlight returns the highest number of concurrent calls observed.
func (a *CountingAccessor) MaxInFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxInFlight
}

func (a *CountingAccessor) begin(ctx context.Context, op storage.Operation, path string) (func(), error) {
	a.mu.Lock()
	a.calls[op]++
	a.inFlight++
	if a.inFlight > a.maxInFlight {
		a.maxInFlight = a.inFlight
	}
	var err error
	if queue := a.faults[op]; len(queue) > 0 {
		err, a.faults[op] = queue[0], queue[1:]
	}
	hook := a.hook
	a.mu.Unlock()

	var once sync.Once
	end := func() {
		once.Do(func() {
			a.mu.Lock()
			a.inFlight--
			a.mu.Unlock()
		})
	}

	if hook != nil {
		hook(ctx, op, path)
	}
	if err != nil {
		end()
		return nil, err
	}
	return end, nil
}

func (a *CountingAccessor) Info() storage.AccessorInfo { return a.info }

func (a *CountingAccessor) CreateDir(ctx context.Context, path string) error {
	end, err := a.begin(ctx, storage.OperationCreateDir, path)
	if err != nil {
		return err
	}
	defer end()
	return a.inner.CreateDir(ctx, path)
}

func (a *CountingAccessor) Stat(ctx context.Context, path string, opts storage.StatOptions) (storage.Metadata, error) {
	end, err := a.begin(ctx, storage.OperationStat, path)
	if err != nil {
		return storage.Metadata{}, err
	}
	defer end()
	return a.inner.Stat(ctx, path, opts)
}

func (a *CountingAccessor) Read(ctx context.Context, path string, opts storage.ReadOptions) (io.ReadCloser, error) {
	end, err := a.begin(ctx, storage.OperationRead, path)
	if err != nil {
		return nil, err
	}
	rc, err := a.inner.Read(ctx, path, opts)
	if err != nil {
		end()
		return nil, err
	}
	return &trackedReader{ReadCloser: rc, end: end}, nil
}

func (a *CountingAccessor) Write(ctx context.Context, path string, opts storage.WriteOptions) (storage.Writer, error) {
	end, err := a.begin(ctx, storage.OperationWrite, path)
	if err != nil {
		return nil, err
	}
	w, err := a.inner.Write(ctx, path, opts)
	if err != nil {
		end()
		return nil, err
	}
	return &trackedWriter{a: a, Writer: w, end: end}, nil
}

func (a *CountingAccessor) Delete(ctx context.Context, path string) error {
	end, err := a.begin(ctx, storage.OperationDelete, path)
	if err != nil {
		return err
	}
	defer end()
	return a.inner.Delete(ctx, path)
}

func (a *CountingAccessor) List(ctx context.Context, path string, opts storage.ListOptions) (storage.Lister, error) {
	end, err := a.begin(ctx, storage.OperationList, path)
	if err != nil {
		return nil, err
	}
	l, err := a.inner.List(ctx, path, opts)
	if err != nil {
		end()
		return nil, err
	}
	return &trackedLister{a: a, Lister: l, end: end}, nil
}

func (a *CountingAccessor) Copy(ctx context.Context, from, to string) error {
	end, err := a.begin(ctx, storage.OperationCopy, from)
	if err != nil {
		return err
	}
	defer end()
	return a.inner.Copy(ctx, from, to)
}

func (a *CountingAccessor) Rename(ctx context.Context, from, to string) error {
	end, err := a.begin(ctx, storage.OperationRename, from)
	if err != nil {
		return err
	}
	defer end()
	return a.inner.Rename(ctx, from, to)
}

func (a *CountingAccessor) Presign(ctx context.Context, path string, opts storage.PresignOptions) (storage.PresignedRequest, error) {
	end, err := a.begin(ctx, storage.OperationPresign, path)
	if err != nil {
		return storage.PresignedRequest{}, err
	}
	defer end()
	return a.inner.Presign(ctx, path, opts)
}

func (a *CountingAccessor) Batch(ctx context.Context, req storage.BatchRequest) ([]storage.BatchResult, error) {
	end, err := a.begin(ctx, storage.OperationBatch, "")
	if err != nil {
		return nil, err
	}
	defer end()
	return a.inner.Batch(ctx, req)
}

type trackedReader struct {
	io.ReadCloser
	end func()
}

func (r *trackedReader) Seek(offset int64, whence int) (int64, error) {
	s, ok := r.ReadCloser.(io.Seeker)
	if !ok {
		return 0, storage.Unsupported(storage.OperationReaderRead, "seek")
	}
	return s.Seek(offset, whence)
}

func (r *trackedReader) Close() error {
	defer r.end()
	return r.ReadCloser.Close()
}

type trackedWriter struct {
	storage.Writer
	a   *CountingAccessor
	end func()
}

func (w *trackedWriter) Write(p []byte) (int, error) {
	w.a.mu.Lock()
	w.a.calls[storage.OperationWriterWrite]++
	var err error
	if queue := w.a.faults[storage.OperationWriterWrite]; len(queue) > 0 {
		err, w.a.faults[storage.OperationWriterWrite] = queue[0], queue[1:]
	}
	w.a.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return w.Writer.Write(p)
}

func (w *trackedWriter) Close() error {
	defer w.end()
	return w.Writer.Close()
}

func (w *trackedWriter) Abort() error {
	defer w.end()
	return w.Writer.Abort()
}

type trackedLister struct {
	storage.Lister
	a   *CountingAccessor
	end func()
}

func (l *trackedLister) Next(ctx context.Context) (storage.Entry, error) {
	l.a.mu.Lock()
	l.a.calls[storage.OperationListerNext]++
	l.a.mu.Unlock()
	return l.Lister.Next(ctx)
}

func (l *trackedLister) Close() error {
	defer l.end()
	return l.Lister.Close()
}
