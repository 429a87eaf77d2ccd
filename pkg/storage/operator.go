package storage

import (
	"context"
	"errors"
	"io"
	"sort"
)

// Operator is the façade over one backend configuration.
//
// Every call follows the same three steps:
//  1. Validate and normalize the path
//  2. Check the full capability for the operation and every optional
//     variant the caller asked for, failing with Unsupported before any
//     backend call
//  3. Dispatch to the top of the layer stack
//
// Errors coming back from the stack keep their kind and gain operation and
// path context.
//
// An Operator is immutable; Layer returns a new Operator. It is safe for
// concurrent use.
type Operator struct {
	acc    Accessor
	info   AccessorInfo
	native Capability
	full   Capability
	closer io.Closer
}

// NewOperator creates an Operator over acc. The native capability is read
// once from acc.Info(). When acc implements io.Closer, Operator.Close
// closes it.
func NewOperator(acc Accessor) *Operator {
	info := acc.Info()
	info.Root = NormalizeRoot(info.Root)

	op := &Operator{
		acc:    acc,
		info:   info,
		native: info.Capability,
		full:   fullCapability(info.Capability),
	}
	if c, ok := acc.(io.Closer); ok {
		op.closer = c
	}
	return op
}

// Layer returns a new Operator whose stack is wrapped by layers, the first
// layer innermost.
func (o *Operator) Layer(layers ...Layer) *Operator {
	acc := o.acc
	for _, l := range layers {
		acc = l.Layer(acc)
	}
	c := *o
	c.acc = acc
	return &c
}

// Accessor returns the top of the layer stack.
func (o *Operator) Accessor() Accessor { return o.acc }

// Info describes the Operator.
func (o *Operator) Info() OperatorInfo {
	return OperatorInfo{
		Scheme:           o.info.Scheme,
		Root:             o.info.Root,
		Name:             o.info.Name,
		FullCapability:   o.full,
		NativeCapability: o.native,
	}
}

// Close releases the backend, if it holds resources.
func (o *Operator) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer.Close()
}

// ============================================================================
// Stat
// ============================================================================

// Stat returns the complete metadata of path.
func (o *Operator) Stat(ctx context.Context, path string) (Metadata, error) {
	return o.StatWithOptions(ctx, path, StatOptions{})
}

// StatWithOptions returns the metadata of path.
//
// Only the fields in opts.Metakey are populated; every other optional
// field reads as FieldNotRequested. Requested fields the backend has no
// value for read as FieldAbsent.
func (o *Operator) StatWithOptions(ctx context.Context, path string, opts StatOptions) (Metadata, error) {
	path, err := ValidatePath(OperationStat, path)
	if err != nil {
		return Metadata{}, err
	}

	switch {
	case !o.full.Stat:
		return Metadata{}, o.unsupported(OperationStat, "stat", path)
	case opts.IfMatch != "" && !o.full.StatWithIfMatch:
		return Metadata{}, o.unsupported(OperationStat, "stat with if_match", path)
	case opts.IfNoneMatch != "" && !o.full.StatWithIfNoneMatch:
		return Metadata{}, o.unsupported(OperationStat, "stat with if_none_match", path)
	}

	if opts.Metakey == 0 {
		opts.Metakey = MetakeyComplete
	}

	md, err := o.acc.Stat(ctx, path, opts)
	if err != nil {
		return Metadata{}, wrapError(err, OperationStat, path)
	}
	return md.WithRequested(opts.Metakey).Project(opts.Metakey), nil
}

// IsExist reports whether path exists.
func (o *Operator) IsExist(ctx context.Context, path string) (bool, error) {
	_, err := o.StatWithOptions(ctx, path, StatOptions{Metakey: MetakeyMode})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// ============================================================================
// Read
// ============================================================================

// Read returns the whole content of path.
func (o *Operator) Read(ctx context.Context, path string) ([]byte, error) {
	return o.ReadWithOptions(ctx, path, ReadOptions{})
}

// ReadWithOptions returns the content of path, restricted to opts.Range
// when set.
func (o *Operator) ReadWithOptions(ctx context.Context, path string, opts ReadOptions) ([]byte, error) {
	r, err := o.Reader(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

// Reader opens a stream over the content of path.
//
// Ranges are served natively when the backend supports them and emulated
// by skipping and truncating otherwise. The returned Reader is seekable
// only when the backend advertises read_can_seek and the range is not
// emulated.
func (o *Operator) Reader(ctx context.Context, path string, opts ReadOptions) (*Reader, error) {
	path, err := ValidatePath(OperationRead, path)
	if err != nil {
		return nil, err
	}
	if IsDirPath(path) {
		return nil, NewError(KindIsADirectory, "cannot read a directory").WithOperation(OperationRead).WithPath(path)
	}
	if err := o.checkRead(path, opts); err != nil {
		return nil, err
	}

	backendOpts := opts
	emulateRange := false
	if opts.Range.IsFull() {
		backendOpts.Range = nil
	} else if !o.native.ReadWithRange {
		backendOpts.Range = nil
		emulateRange = true
	}

	rc, err := o.acc.Read(ctx, path, backendOpts)
	if err != nil {
		return nil, wrapError(err, OperationRead, path)
	}
	if emulateRange {
		rc = newRangeReader(rc, opts.Range)
	}
	return newReader(rc, path, o.native.ReadCanSeek && !emulateRange), nil
}

func (o *Operator) checkRead(path string, opts ReadOptions) error {
	switch {
	case !o.full.Read:
		return o.unsupported(OperationRead, "read", path)
	case !opts.Range.IsFull() && !o.full.ReadWithRange:
		return o.unsupported(OperationRead, "read with range", path)
	case opts.IfMatch != "" && !o.full.ReadWithIfMatch:
		return o.unsupported(OperationRead, "read with if_match", path)
	case opts.IfNoneMatch != "" && !o.full.ReadWithIfNoneMatch:
		return o.unsupported(OperationRead, "read with if_none_match", path)
	case opts.OverrideCacheControl != "" && !o.full.ReadWithOverrideCacheControl:
		return o.unsupported(OperationRead, "read with override_cache_control", path)
	case opts.OverrideContentDisposition != "" && !o.full.ReadWithOverrideContentDisposition:
		return o.unsupported(OperationRead, "read with override_content_disposition", path)
	case opts.OverrideContentType != "" && !o.full.ReadWithOverrideContentType:
		return o.unsupported(OperationRead, "read with override_content_type", path)
	}
	if err := opts.Range.validate(); err != nil {
		return wrapError(err, OperationRead, path)
	}
	return nil
}

// ============================================================================
// Write
// ============================================================================

// Write replaces the content of path with data.
//
// A cancelled write may or may not have completed on the backend.
func (o *Operator) Write(ctx context.Context, path string, data []byte) error {
	return o.WriteWithOptions(ctx, path, data, WriteOptions{})
}

// WriteWithOptions writes data to path.
func (o *Operator) WriteWithOptions(ctx context.Context, path string, data []byte, opts WriteOptions) error {
	w, err := o.Writer(ctx, path, opts)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Abort()
		return err
	}
	return w.Close()
}

// Writer opens a write stream to path.
//
// Parameters:
//   - opts.ChunkSize: when positive, input is buffered into chunks of
//     this size and each chunk is one multipart part. The size is checked
//     against the backend's multipart limits before the backend is
//     contacted.
//
// Returns:
//   - Writer: Close commits, Abort discards. Nothing is visible at path
//     before Close returns nil.
func (o *Operator) Writer(ctx context.Context, path string, opts WriteOptions) (Writer, error) {
	path, err := ValidatePath(OperationWrite, path)
	if err != nil {
		return nil, err
	}
	if IsDirPath(path) {
		return nil, NewError(KindIsADirectory, "cannot write to a directory").WithOperation(OperationWrite).WithPath(path)
	}
	if err := o.checkWrite(path, opts); err != nil {
		return nil, err
	}

	inner, err := o.acc.Write(ctx, path, opts)
	if err != nil {
		return nil, wrapError(err, OperationWrite, path)
	}

	w := &opWriter{
		inner:    inner,
		path:     path,
		cap:      o.native,
		validate: opts.ChunkSize > 0 && o.native.WriteCanMulti,
	}
	if opts.ChunkSize > 0 {
		return NewChunkedWriter(w, opts.ChunkSize), nil
	}
	return w, nil
}

func (o *Operator) checkWrite(path string, opts WriteOptions) error {
	switch {
	case !o.full.Write:
		return o.unsupported(OperationWrite, "write", path)
	case opts.ContentType != "" && !o.full.WriteWithContentType:
		return o.unsupported(OperationWrite, "write with content_type", path)
	case opts.ContentDisposition != "" && !o.full.WriteWithContentDisposition:
		return o.unsupported(OperationWrite, "write with content_disposition", path)
	case opts.CacheControl != "" && !o.full.WriteWithCacheControl:
		return o.unsupported(OperationWrite, "write with cache_control", path)
	case opts.Append && !o.full.WriteCanAppend:
		return o.unsupported(OperationWrite, "write with append", path)
	case opts.ChunkSize > 0 && !o.full.WriteCanMulti:
		return o.unsupported(OperationWrite, "multipart write", path)
	}

	if opts.ChunkSize < 0 {
		return NewError(KindInvalidInput, "chunk size must not be negative, got %d", opts.ChunkSize).
			WithOperation(OperationWrite).WithPath(path)
	}
	if opts.ChunkSize > 0 && o.native.WriteCanMulti {
		if err := o.native.ValidateMultipartChunk(opts.ChunkSize, false); err != nil {
			return wrapError(err, OperationWrite, path)
		}
	}
	return nil
}

// ============================================================================
// Delete
// ============================================================================

// Delete removes path. Deleting a path that does not exist succeeds.
// Directories are removed only when empty on backends that track them.
func (o *Operator) Delete(ctx context.Context, path string) error {
	path, err := ValidatePath(OperationDelete, path)
	if err != nil {
		return err
	}
	if !o.full.Delete {
		return o.unsupported(OperationDelete, "delete", path)
	}

	if err := o.acc.Delete(ctx, path); err != nil && !errors.Is(err, ErrNotFound) {
		return wrapError(err, OperationDelete, path)
	}
	return nil
}

// RemoveAll removes path and, when it is a directory, everything below
// it. Children are removed with Batch; the first failing item is returned.
func (o *Operator) RemoveAll(ctx context.Context, path string) error {
	path, err := ValidatePath(OperationDelete, path)
	if err != nil {
		return err
	}
	if !IsDirPath(path) {
		return o.Delete(ctx, path)
	}

	entries, err := o.ListAll(ctx, path, ListOptions{Recursive: true})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	paths := make([]string, 0, len(entries)+1)
	for _, e := range entries {
		if e.Path() != path {
			paths = append(paths, e.Path())
		}
	}
	// Deeper paths first, so directories are empty by the time they go.
	sort.SliceStable(paths, func(i, j int) bool { return len(paths[i]) > len(paths[j]) })
	if path != "/" {
		paths = append(paths, path)
	}
	if len(paths) == 0 {
		return nil
	}

	results, err := o.Batch(ctx, paths)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// ============================================================================
// List
// ============================================================================

// List returns a lazy listing of the directory path.
//
// Entries carry at least the fields of opts.Metakey. When the backend does
// not return them while listing, the Operator fills them with one Stat per
// entry, so narrow masks are cheaper.
func (o *Operator) List(ctx context.Context, path string, opts ListOptions) (Lister, error) {
	path, err := ValidatePath(OperationList, path)
	if err != nil {
		return nil, err
	}
	if !IsDirPath(path) {
		return nil, NewError(KindNotADirectory, "list requires a directory path ending with '/'").
			WithOperation(OperationList).WithPath(path)
	}
	if err := o.checkList(path, opts); err != nil {
		return nil, err
	}

	mask := opts.Metakey
	if mask == 0 {
		mask = MetakeyMode
	}
	backendOpts := opts
	backendOpts.Metakey = mask
	if opts.StartAfter != "" {
		backendOpts.StartAfter = NormalizePath(opts.StartAfter)
	}
	if !o.native.ListWithLimit {
		backendOpts.Limit = 0
	}

	ctx, owned := WithScope(ctx)
	inner, err := o.acc.List(ctx, path, backendOpts)
	if err != nil {
		owned.Close()
		return nil, wrapError(err, OperationList, path)
	}

	completed := &mapLister{
		inner: inner,
		fn: func(ctx context.Context, e Entry) (Entry, error) {
			return o.completeEntry(ctx, e, mask)
		},
		scope: ScopeFrom(ctx),
		owned: owned,
	}
	return &errLister{inner: completed, path: path}, nil
}

// completeEntry makes sure e carries every field of mask.
func (o *Operator) completeEntry(ctx context.Context, e Entry, mask Metakey) (Entry, error) {
	md := e.Metadata()
	if md.Contains(mask) {
		return e.withMetadata(md.Project(mask)), nil
	}
	if md.IsDir() || !o.native.Stat {
		// Directories have no more to say, and without stat nothing can.
		return e.withMetadata(md.WithRequested(mask).Project(mask)), nil
	}

	full, err := o.acc.Stat(ctx, e.Path(), StatOptions{Metakey: mask})
	if err != nil {
		return Entry{}, wrapError(err, OperationStat, e.Path())
	}
	return e.withMetadata(full.WithRequested(mask).Project(mask)), nil
}

func (o *Operator) checkList(path string, opts ListOptions) error {
	switch {
	case !o.full.List:
		return o.unsupported(OperationList, "list", path)
	case opts.Limit > 0 && !o.full.ListWithLimit:
		return o.unsupported(OperationList, "list with limit", path)
	case opts.StartAfter != "" && !o.full.ListWithStartAfter:
		return o.unsupported(OperationList, "list with start_after", path)
	case opts.Recursive && !o.full.ListWithoutDelimiter:
		return o.unsupported(OperationList, "recursive list", path)
	case !opts.Recursive && !o.full.ListWithDelimiterSlash:
		return o.unsupported(OperationList, "list with delimiter '/'", path)
	}
	if opts.Limit < 0 {
		return NewError(KindInvalidInput, "list limit must not be negative, got %d", opts.Limit).
			WithOperation(OperationList).WithPath(path)
	}
	return nil
}

// ListAll drains List into a slice.
func (o *Operator) ListAll(ctx context.Context, path string, opts ListOptions) ([]Entry, error) {
	l, err := o.List(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return Drain(ctx, l)
}

// Scan lists every descendant of the directory path.
func (o *Operator) Scan(ctx context.Context, path string) ([]Entry, error) {
	return o.ListAll(ctx, path, ListOptions{Recursive: true})
}

// ============================================================================
// CreateDir
// ============================================================================

// CreateDir creates the directory path, which must end with "/".
func (o *Operator) CreateDir(ctx context.Context, path string) error {
	path, err := ValidatePath(OperationCreateDir, path)
	if err != nil {
		return err
	}
	if !IsDirPath(path) {
		return NewError(KindNotADirectory, "directory path must end with '/'").
			WithOperation(OperationCreateDir).WithPath(path)
	}
	if !o.full.CreateDir {
		return o.unsupported(OperationCreateDir, "create_dir", path)
	}

	if err := o.acc.CreateDir(ctx, path); err != nil {
		return wrapError(err, OperationCreateDir, path)
	}
	return nil
}

// ============================================================================
// Copy / Rename
// ============================================================================

// Copy copies the file from to the path to.
//
// Without native copy support the Operator reads from and writes to. The
// emulation is not atomic: a failure reports the failing step ("read" or
// "write") in the error context, and a partially written destination may
// be left behind. Each step goes through the layer stack on its own, so a
// retry layer retries steps individually.
func (o *Operator) Copy(ctx context.Context, from, to string) error {
	from, to, err := o.checkCopy(OperationCopy, from, to)
	if err != nil {
		return err
	}
	if !o.full.Copy {
		return o.unsupported(OperationCopy, "copy", from)
	}

	if o.native.Copy {
		if err := o.acc.Copy(ctx, from, to); err != nil {
			return wrapError(err, OperationCopy, from)
		}
		return nil
	}

	ctx, scope := WithScope(ctx)
	defer scope.Close()

	return o.emulateCopy(ctx, OperationCopy, from, to)
}

// Rename moves the file from to the path to.
//
// Without native rename support the Operator copies then deletes the
// source. The emulation is not atomic: when the final delete fails, both
// from and to exist and the error context names the "delete" step.
func (o *Operator) Rename(ctx context.Context, from, to string) error {
	from, to, err := o.checkCopy(OperationRename, from, to)
	if err != nil {
		return err
	}
	if !o.full.Rename {
		return o.unsupported(OperationRename, "rename", from)
	}

	if o.native.Rename {
		if err := o.acc.Rename(ctx, from, to); err != nil {
			return wrapError(err, OperationRename, from)
		}
		return nil
	}

	ctx, scope := WithScope(ctx)
	defer scope.Close()

	if o.native.Copy {
		if err := o.acc.Copy(ctx, from, to); err != nil {
			return stepError(err, OperationRename, from, "copy")
		}
	} else if err := o.emulateCopy(ctx, OperationRename, from, to); err != nil {
		return err
	}

	if err := o.acc.Delete(ctx, from); err != nil && !errors.Is(err, ErrNotFound) {
		return stepError(err, OperationRename, from, "delete")
	}
	return nil
}

func (o *Operator) checkCopy(op Operation, from, to string) (string, string, error) {
	from, err := ValidatePath(op, from)
	if err != nil {
		return "", "", err
	}
	to, err = ValidatePath(op, to)
	if err != nil {
		return "", "", err
	}
	if IsDirPath(from) {
		return "", "", NewError(KindIsADirectory, "source is a directory").WithOperation(op).WithPath(from)
	}
	if IsDirPath(to) {
		return "", "", NewError(KindIsADirectory, "destination is a directory").WithOperation(op).WithPath(to)
	}
	if from == to {
		return "", "", NewError(KindIsSameFile, "source and destination are the same").WithOperation(op).WithPath(from)
	}
	return from, to, nil
}

func (o *Operator) emulateCopy(ctx context.Context, op Operation, from, to string) error {
	r, err := o.acc.Read(ctx, from, ReadOptions{})
	if err != nil {
		return stepError(err, op, from, "read")
	}
	defer r.Close()

	w, err := o.acc.Write(ctx, to, WriteOptions{})
	if err != nil {
		return stepError(err, op, to, "write")
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Abort()
		return stepError(err, op, to, "write")
	}
	if err := w.Close(); err != nil {
		return stepError(err, op, to, "write")
	}
	return nil
}

func stepError(err error, op Operation, path, step string) error {
	se := wrapError(err, op, path).(*Error)
	return se.WithContext("step", step)
}

// ============================================================================
// Presign
// ============================================================================

// Presign returns a pre-authorized HTTP request performing opts.Operation
// on path, valid for opts.Expire.
func (o *Operator) Presign(ctx context.Context, path string, opts PresignOptions) (PresignedRequest, error) {
	path, err := ValidatePath(OperationPresign, path)
	if err != nil {
		return PresignedRequest{}, err
	}
	if !o.full.Presign {
		return PresignedRequest{}, o.unsupported(OperationPresign, "presign", path)
	}

	switch opts.Operation {
	case PresignStat:
		if !o.full.PresignStat {
			return PresignedRequest{}, o.unsupported(OperationPresign, "presign stat", path)
		}
	case PresignRead:
		if !o.full.PresignRead {
			return PresignedRequest{}, o.unsupported(OperationPresign, "presign read", path)
		}
	case PresignWrite:
		if !o.full.PresignWrite {
			return PresignedRequest{}, o.unsupported(OperationPresign, "presign write", path)
		}
	default:
		return PresignedRequest{}, NewError(KindInvalidInput, "unknown presign operation %q", opts.Operation).
			WithOperation(OperationPresign).WithPath(path)
	}
	if opts.Expire <= 0 {
		return PresignedRequest{}, NewError(KindInvalidInput, "presign expiry must be positive, got %s", opts.Expire).
			WithOperation(OperationPresign).WithPath(path)
	}

	req, err := o.acc.Presign(ctx, path, opts)
	if err != nil {
		return PresignedRequest{}, wrapError(err, OperationPresign, path)
	}
	return req, nil
}

// ============================================================================
// Batch
// ============================================================================

// Batch deletes paths and returns one result per path, in input order.
//
// Paths that fail validation get their own error result and are not sent
// to the backend. Requests larger than the backend's batch_max_operations
// are split. Backends without native batch support get one Delete per
// path. An all-or-nothing backend failure is returned as the error.
func (o *Operator) Batch(ctx context.Context, paths []string) ([]BatchResult, error) {
	if !o.full.Batch || !o.full.BatchDelete {
		return nil, o.unsupported(OperationBatch, "batch delete", "")
	}

	results := make([]BatchResult, len(paths))
	valid := make([]string, 0, len(paths))
	index := make(map[string][]int, len(paths))
	for i, p := range paths {
		np, err := ValidatePath(OperationBatch, p)
		results[i] = BatchResult{Path: p, Err: err}
		if err != nil {
			continue
		}
		results[i].Path = np
		if _, seen := index[np]; !seen {
			valid = append(valid, np)
		}
		index[np] = append(index[np], i)
	}

	record := func(path string, err error) {
		if errors.Is(err, ErrNotFound) {
			err = nil
		}
		if err != nil {
			err = wrapError(err, OperationBatch, path)
		}
		for _, i := range index[path] {
			results[i].Err = err
		}
	}

	if !o.native.Batch || !o.native.BatchDelete {
		for _, p := range valid {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			record(p, o.acc.Delete(ctx, p))
		}
		return results, nil
	}

	size := len(valid)
	if limit := int(o.native.BatchMaxOperations); limit > 0 && limit < size {
		size = limit
	}
	for start := 0; start < len(valid); start += size {
		end := min(start+size, len(valid))
		chunk, err := o.acc.Batch(ctx, BatchRequest{Paths: valid[start:end]})
		if err != nil {
			return nil, wrapError(err, OperationBatch, "")
		}
		for _, r := range chunk {
			record(r.Path, r.Err)
		}
	}
	return results, nil
}

func (o *Operator) unsupported(op Operation, what, path string) error {
	return Unsupported(op, what).WithPath(path).WithContext("scheme", o.info.Scheme)
}
