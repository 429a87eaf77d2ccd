// Package layers provides the standard storage.Layer implementations.
//
// Every layer wraps a storage.Accessor and returns another one with the
// same contract, so layers compose in any order. A layer only overrides
// the operations it cares about; the rest are forwarded by embedding.
//
// A typical stack, innermost first:
//
//	op := storage.NewOperator(backend).Layer(
//	    layers.NewThrottleLayer(limiter),
//	    layers.NewConcurrentLimitLayer(64),
//	    layers.NewRetryLayer(layers.RetryConfig{}),
//	    layers.NewMetricsLayer(metrics.NewStorageMetrics()),
//	    layers.NewTracingLayer(tracing.Tracer()),
//	    layers.NewLoggingLayer(),
//	)
//
// Placing retry outside the concurrency limit releases the permit while
// backing off.
package layers

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/marmos91/dittostore/pkg/storage"
)

// errAborted is reported to stream observers when a writer is aborted.
var errAborted = errors.New("writer aborted")

// Apply wraps acc with layers, the first one innermost.
func Apply(acc storage.Accessor, layers ...storage.Layer) storage.Accessor {
	for _, l := range layers {
		acc = l.Layer(acc)
	}
	return acc
}

// observedReader reports the bytes read and the first error when closed.
type observedReader struct {
	io.ReadCloser
	n       int64
	err     error
	once    sync.Once
	onClose func(n int64, err error)
}

func observeReader(rc io.ReadCloser, onClose func(n int64, err error)) io.ReadCloser {
	r := &observedReader{ReadCloser: rc, onClose: onClose}
	if _, ok := rc.(io.Seeker); ok {
		return &observedSeekReader{observedReader: r}
	}
	return r
}

func (r *observedReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.n += int64(n)
	if err != nil && err != io.EOF && r.err == nil {
		r.err = err
	}
	return n, err
}

func (r *observedReader) Close() error {
	err := r.ReadCloser.Close()
	r.once.Do(func() {
		if r.err == nil {
			r.err = err
		}
		r.onClose(r.n, r.err)
	})
	return err
}

// observedSeekReader keeps the wrapped reader seekable.
type observedSeekReader struct {
	*observedReader
}

func (r *observedSeekReader) Seek(offset int64, whence int) (int64, error) {
	return r.ReadCloser.(io.Seeker).Seek(offset, whence)
}

// observedWriter reports the bytes written and the outcome when the
// writer is closed or aborted.
type observedWriter struct {
	storage.Writer
	n       int64
	err     error
	once    sync.Once
	onClose func(n int64, err error)
}

func observeWriter(w storage.Writer, onClose func(n int64, err error)) storage.Writer {
	return &observedWriter{Writer: w, onClose: onClose}
}

func (w *observedWriter) Write(p []byte) (int, error) {
	n, err := w.Writer.Write(p)
	w.n += int64(n)
	if err != nil && w.err == nil {
		w.err = err
	}
	return n, err
}

func (w *observedWriter) Close() error {
	err := w.Writer.Close()
	w.finish(err)
	return err
}

func (w *observedWriter) Abort() error {
	err := w.Writer.Abort()
	w.finish(errAborted)
	return err
}

func (w *observedWriter) finish(err error) {
	w.once.Do(func() {
		if w.err == nil {
			w.err = err
		}
		w.onClose(w.n, w.err)
	})
}

// observedLister reports the number of entries and the outcome when the
// lister is exhausted or closed, whichever comes first.
type observedLister struct {
	storage.Lister
	n       int64
	err     error
	once    sync.Once
	onClose func(n int64, err error)
}

func observeLister(l storage.Lister, onClose func(n int64, err error)) storage.Lister {
	return &observedLister{Lister: l, onClose: onClose}
}

func (l *observedLister) Next(ctx context.Context) (storage.Entry, error) {
	e, err := l.Lister.Next(ctx)
	switch {
	case err == nil:
		l.n++
	case err == io.EOF:
		l.finish(nil)
	case l.err == nil:
		l.err = err
	}
	return e, err
}

func (l *observedLister) Close() error {
	err := l.Lister.Close()
	l.finish(err)
	return err
}

func (l *observedLister) finish(err error) {
	l.once.Do(func() {
		if l.err == nil {
			l.err = err
		}
		l.onClose(l.n, l.err)
	})
}
