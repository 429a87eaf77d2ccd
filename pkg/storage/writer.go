package storage

import (
	"bytes"
	"context"
	"sync"
)

// ChunkedWriter buffers input into fixed-size chunks and hands every chunk
// to the inner Writer in a single Write call. The final, possibly shorter,
// chunk is flushed on Close.
type ChunkedWriter struct {
	inner Writer
	size  int
	buf   []byte
}

// NewChunkedWriter wraps inner. size must be positive.
func NewChunkedWriter(inner Writer, size int64) *ChunkedWriter {
	return &ChunkedWriter{inner: inner, size: int(size), buf: make([]byte, 0, size)}
}

func (w *ChunkedWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(w.size-len(w.buf), len(p))
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		written += n

		if len(w.buf) == w.size {
			if _, err := w.inner.Write(w.buf); err != nil {
				return written, err
			}
			w.buf = w.buf[:0]
		}
	}
	return written, nil
}

func (w *ChunkedWriter) Close() error {
	if len(w.buf) > 0 {
		if _, err := w.inner.Write(w.buf); err != nil {
			_ = w.inner.Abort()
			return err
		}
		w.buf = w.buf[:0]
	}
	return w.inner.Close()
}

func (w *ChunkedWriter) Abort() error {
	w.buf = w.buf[:0]
	return w.inner.Abort()
}

// CommitFunc persists the complete content of a BufferedWriter.
type CommitFunc func(ctx context.Context, data []byte) error

// BufferedWriter collects everything written in memory and commits it in
// one call on Close. Backends without streaming uploads build their
// Writer on it.
type BufferedWriter struct {
	ctx    context.Context
	commit CommitFunc

	mu   sync.Mutex
	buf  bytes.Buffer
	done bool
}

// NewBufferedWriter returns a Writer that calls commit on Close.
func NewBufferedWriter(ctx context.Context, commit CommitFunc) *BufferedWriter {
	return &BufferedWriter{ctx: ctx, commit: commit}
}

func (w *BufferedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return 0, NewError(KindUnexpected, "writer is closed").WithOperation(OperationWriterWrite)
	}
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	return w.buf.Write(p)
}

func (w *BufferedWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return nil
	}
	w.done = true
	if err := w.ctx.Err(); err != nil {
		return err
	}
	return w.commit(w.ctx, w.buf.Bytes())
}

func (w *BufferedWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.done = true
	w.buf.Reset()
	return nil
}

// opWriter validates chunk sizes and wraps errors on the way to the
// backend writer.
type opWriter struct {
	inner Writer
	path  string
	cap   Capability

	// validate is set when every Write call is one multipart chunk.
	validate bool
	pending  []byte
}

func (w *opWriter) Write(p []byte) (int, error) {
	if w.validate {
		// A chunk is known to be non-final only once the next one arrives.
		if w.pending != nil {
			if err := w.cap.ValidateMultipartChunk(int64(len(w.pending)), false); err != nil {
				return 0, wrapError(err, OperationWriterWrite, w.path)
			}
			if _, err := w.inner.Write(w.pending); err != nil {
				return 0, wrapError(err, OperationWriterWrite, w.path)
			}
		}
		w.pending = append([]byte(nil), p...)
		return len(p), nil
	}

	n, err := w.inner.Write(p)
	if err != nil {
		return n, wrapError(err, OperationWriterWrite, w.path)
	}
	return n, nil
}

func (w *opWriter) Close() error {
	if w.validate && w.pending != nil {
		if err := w.cap.ValidateMultipartChunk(int64(len(w.pending)), true); err != nil {
			_ = w.inner.Abort()
			return wrapError(err, OperationWriterClose, w.path)
		}
		if _, err := w.inner.Write(w.pending); err != nil {
			_ = w.inner.Abort()
			return wrapError(err, OperationWriterWrite, w.path)
		}
		w.pending = nil
	}
	if err := w.inner.Close(); err != nil {
		return wrapError(err, OperationWriterClose, w.path)
	}
	return nil
}

func (w *opWriter) Abort() error {
	w.pending = nil
	if err := w.inner.Abort(); err != nil {
		return wrapError(err, OperationWriterClose, w.path)
	}
	return nil
}
