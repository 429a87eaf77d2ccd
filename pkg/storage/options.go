package storage

import (
	"fmt"
	"time"
)

// StatOptions controls Stat.
type StatOptions struct {
	IfMatch     string
	IfNoneMatch string

	// Metakey selects the metadata fields to populate. Zero means
	// MetakeyComplete.
	Metakey Metakey
}

// BytesRange is a byte range of an object. A negative Length reads to the
// end of the object.
type BytesRange struct {
	Offset int64
	Length int64
}

// NewBytesRange returns the range [offset, offset+length).
func NewBytesRange(offset, length int64) *BytesRange {
	return &BytesRange{Offset: offset, Length: length}
}

// IsFull reports whether the range covers the whole object.
func (r *BytesRange) IsFull() bool {
	return r == nil || (r.Offset == 0 && r.Length < 0)
}

// HTTPHeader renders the range as an HTTP Range header value.
func (r *BytesRange) HTTPHeader() string {
	if r.Length < 0 {
		return fmt.Sprintf("bytes=%d-", r.Offset)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1)
}

func (r *BytesRange) validate() error {
	if r == nil {
		return nil
	}
	if r.Offset < 0 {
		return NewError(KindInvalidInput, "range offset must not be negative, got %d", r.Offset)
	}
	if r.Length == 0 {
		return NewError(KindInvalidInput, "range length must not be zero")
	}
	return nil
}

// ReadOptions controls Read and Reader.
type ReadOptions struct {
	Range *BytesRange

	IfMatch     string
	IfNoneMatch string

	// Response header overrides, honored by presigned reads and backends
	// that serve HTTP.
	OverrideCacheControl       string
	OverrideContentDisposition string
	OverrideContentType        string
}

// WriteOptions controls Write and Writer.
type WriteOptions struct {
	ContentType        string
	ContentDisposition string
	CacheControl       string

	// Append adds to an existing object instead of replacing it.
	Append bool

	// ChunkSize, when positive, makes Writer buffer input into chunks of
	// this size and hand every chunk to the backend as one multipart part.
	ChunkSize int64
}

// ListOptions controls List.
type ListOptions struct {
	// Limit is a page size hint. Zero lets the backend choose.
	Limit int

	// StartAfter skips every entry whose path sorts at or before it.
	StartAfter string

	// Recursive lists every descendant instead of the direct children.
	Recursive bool

	// Metakey selects the metadata fields each entry must carry. Zero means
	// MetakeyMode. Fields a backend does not return while listing are
	// filled with an extra Stat per entry.
	Metakey Metakey
}

// PresignOperation is the operation a presigned request performs.
type PresignOperation string

const (
	PresignStat  PresignOperation = "stat"
	PresignRead  PresignOperation = "read"
	PresignWrite PresignOperation = "write"
)

// PresignOptions controls Presign.
type PresignOptions struct {
	Operation PresignOperation
	Expire    time.Duration

	// ContentType is signed into write requests.
	ContentType string
}

// BatchRequest is a batch of deletes.
type BatchRequest struct {
	Paths []string
}

// BatchResult is the outcome of one item of a batch.
type BatchResult struct {
	Path string
	Err  error
}
