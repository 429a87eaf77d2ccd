package storage

import (
	"errors"
	"io"
	"sync"
)

// Reader is the byte stream returned by Operator.Reader.
//
// Seek works only when the backend advertises ReadCanSeek; otherwise the
// reader is sequential and Seek fails with Unsupported.
type Reader struct {
	rc   io.ReadCloser
	seek io.Seeker
	path string

	once     sync.Once
	closeErr error
}

func newReader(rc io.ReadCloser, path string, seekable bool) *Reader {
	r := &Reader{rc: rc, path: path}
	if seekable {
		if s, ok := rc.(io.Seeker); ok {
			r.seek = s
		}
	}
	return r
}

// Seekable reports whether Seek is available.
func (r *Reader) Seekable() bool { return r.seek != nil }

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if err != nil && err != io.EOF {
		err = wrapError(err, OperationReaderRead, r.path)
	}
	return n, err
}

// Seek implements io.Seeker.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	if r.seek == nil {
		return 0, Unsupported(OperationReaderRead, "seek").WithPath(r.path)
	}
	n, err := r.seek.Seek(offset, whence)
	if err != nil {
		return n, wrapError(err, OperationReaderRead, r.path)
	}
	return n, nil
}

// Close releases the stream. It is safe to call more than once.
func (r *Reader) Close() error {
	r.once.Do(func() {
		r.closeErr = r.rc.Close()
	})
	return r.closeErr
}

// rangeReader emulates a byte range over a full-object stream by skipping
// offset bytes and truncating after length bytes.
type rangeReader struct {
	rc      io.ReadCloser
	offset  int64
	limited io.Reader
	length  int64
}

func newRangeReader(rc io.ReadCloser, r *BytesRange) io.ReadCloser {
	return &rangeReader{rc: rc, offset: r.Offset, length: r.Length}
}

func (r *rangeReader) Read(p []byte) (int, error) {
	if r.limited == nil {
		if r.offset > 0 {
			if _, err := io.CopyN(io.Discard, r.rc, r.offset); err != nil && !errors.Is(err, io.EOF) {
				return 0, err
			}
		}
		if r.length < 0 {
			r.limited = r.rc
		} else {
			r.limited = io.LimitReader(r.rc, r.length)
		}
	}
	return r.limited.Read(p)
}

func (r *rangeReader) Close() error { return r.rc.Close() }

// NopSeekCloser adds a no-op Close to r, keeping it seekable.
func NopSeekCloser(r io.ReadSeeker) io.ReadCloser {
	return nopSeekCloser{r}
}

type nopSeekCloser struct{ io.ReadSeeker }

func (nopSeekCloser) Close() error { return nil }
