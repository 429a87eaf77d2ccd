package storage

import (
	"context"
	"io"
)

// Accessor is the contract every storage backend implements.
//
// The Operator and every Layer work purely against this interface. Paths
// are normalized (see NormalizePath) and relative to the accessor root;
// the accessor maps them to its native keys. An Accessor returns an
// Unsupported error for every operation its native Capability does not
// advertise.
//
// Accessors are immutable after construction and safe for concurrent use.
//
// Cancelling ctx stops further backend work, but side effects already
// committed remotely (a completed write, a delete) are not rolled back.
type Accessor interface {
	// Info returns the accessor's identity and native capability.
	Info() AccessorInfo

	// CreateDir creates a directory. path ends with "/".
	CreateDir(ctx context.Context, path string) error

	// Stat returns the metadata of path. Backends populate at least the
	// fields in opts.Metakey and may return more.
	Stat(ctx context.Context, path string, opts StatOptions) (Metadata, error)

	// Read opens path for reading. opts.Range is only set when the native
	// capability advertises ReadWithRange. When the capability advertises
	// ReadCanSeek the returned reader also implements io.Seeker.
	Read(ctx context.Context, path string, opts ReadOptions) (io.ReadCloser, error)

	// Write opens path for writing. Nothing is visible at path before
	// Close returns nil.
	Write(ctx context.Context, path string, opts WriteOptions) (Writer, error)

	// Delete removes path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error

	// List returns a lazy listing of the directory path.
	List(ctx context.Context, path string, opts ListOptions) (Lister, error)

	Copy(ctx context.Context, from, to string) error
	Rename(ctx context.Context, from, to string) error

	// Presign returns a pre-authorized HTTP request for path.
	Presign(ctx context.Context, path string, opts PresignOptions) (PresignedRequest, error)

	// Batch deletes every path of req. It returns one result per path, or
	// a single aggregate error when the backend is all-or-nothing.
	Batch(ctx context.Context, req BatchRequest) ([]BatchResult, error)
}

// AccessorInfo identifies an Accessor instance.
type AccessorInfo struct {
	Scheme     string
	Root       string
	Name       string
	Capability Capability
}

// Layer wraps an Accessor into another Accessor with the same contract.
type Layer interface {
	Layer(inner Accessor) Accessor
}

// LayerFunc adapts a function to the Layer interface.
type LayerFunc func(inner Accessor) Accessor

func (f LayerFunc) Layer(inner Accessor) Accessor { return f(inner) }

// Writer is a stream of bytes written to one object.
//
// Close commits the object. Abort discards everything written so far and
// must be safe to call after a failed Write. Calling Write after Close or
// Abort returns an error.
type Writer interface {
	io.WriteCloser
	Abort() error
}

// Lister is a lazy sequence of entries.
//
// Next returns io.EOF once the listing is exhausted. Close releases any
// backend cursor; it may be called at any point, including before the
// listing is drained, and more than once.
type Lister interface {
	Next(ctx context.Context) (Entry, error)
	Close() error
}

// UnsupportedAccessor returns Unsupported for every operation. Backends
// embed it and override what they natively support.
type UnsupportedAccessor struct{}

func (UnsupportedAccessor) CreateDir(context.Context, string) error {
	return Unsupported(OperationCreateDir, "create_dir")
}

func (UnsupportedAccessor) Stat(context.Context, string, StatOptions) (Metadata, error) {
	return Metadata{}, Unsupported(OperationStat, "stat")
}

func (UnsupportedAccessor) Read(context.Context, string, ReadOptions) (io.ReadCloser, error) {
	return nil, Unsupported(OperationRead, "read")
}

func (UnsupportedAccessor) Write(context.Context, string, WriteOptions) (Writer, error) {
	return nil, Unsupported(OperationWrite, "write")
}

func (UnsupportedAccessor) Delete(context.Context, string) error {
	return Unsupported(OperationDelete, "delete")
}

func (UnsupportedAccessor) List(context.Context, string, ListOptions) (Lister, error) {
	return nil, Unsupported(OperationList, "list")
}

func (UnsupportedAccessor) Copy(context.Context, string, string) error {
	return Unsupported(OperationCopy, "copy")
}

func (UnsupportedAccessor) Rename(context.Context, string, string) error {
	return Unsupported(OperationRename, "rename")
}

func (UnsupportedAccessor) Presign(context.Context, string, PresignOptions) (PresignedRequest, error) {
	return PresignedRequest{}, Unsupported(OperationPresign, "presign")
}

func (UnsupportedAccessor) Batch(context.Context, BatchRequest) ([]BatchResult, error) {
	return nil, Unsupported(OperationBatch, "batch")
}
