package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittostore/pkg/storage"
)

// Scheme is the scheme name of the memory backend.
const Scheme = "memory"

// DefaultPageSize is the number of entries a listing page holds when the
// caller gives no limit.
const DefaultPageSize = 100

// Config configures the memory backend.
type Config struct {
	// Root prefixes every path.
	Root string `mapstructure:"root"`

	// Name identifies the instance in OperatorInfo.
	Name string `mapstructure:"name"`

	// PageSize is the default listing page size.
	PageSize int `mapstructure:"page_size" validate:"omitempty,gte=1,lte=10000"`
}

type object struct {
	data               []byte
	contentType        string
	contentDisposition string
	cacheControl       string
	etag               string
	md5                string
	modified           time.Time
	version            string
}

// Accessor implements storage.Accessor in memory.
//
// Characteristics:
//   - Fast: all operations are memory-speed
//   - Volatile: data is lost when the accessor is dropped
//   - Thread-safe: protected by a RWMutex; data is copied on read and write
//   - Full-featured: every operation except presign is native
//
// Directories are implicit (any object below a prefix makes the prefix a
// directory) or explicit (created with CreateDir).
type Accessor struct {
	storage.UnsupportedAccessor

	root     string
	name     string
	pageSize int

	mu      sync.RWMutex
	objects map[string]*object
	dirs    map[string]struct{}
	version uint64
}

// New creates an empty memory accessor.
func New(cfg Config) *Accessor {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Accessor{
		root:     storage.NormalizeRoot(cfg.Root),
		name:     cfg.Name,
		pageSize: pageSize,
		objects:  make(map[string]*object),
		dirs:     make(map[string]struct{}),
	}
}

// Info implements storage.Accessor.
func (a *Accessor) Info() storage.AccessorInfo {
	return storage.AccessorInfo{
		Scheme: Scheme,
		Root:   a.root,
		Name:   a.name,
		Capability: storage.Capability{
			Stat:                        true,
			StatWithIfMatch:             true,
			StatWithIfNoneMatch:         true,
			Read:                        true,
			ReadCanSeek:                 true,
			ReadWithRange:               true,
			ReadWithIfMatch:             true,
			ReadWithIfNoneMatch:         true,
			Write:                       true,
			WriteCanAppend:              true,
			WriteWithContentType:        true,
			WriteWithContentDisposition: true,
			WriteWithCacheControl:       true,
			CreateDir:                   true,
			Delete:                      true,
			Copy:                        true,
			Rename:                      true,
			List:                        true,
			ListWithLimit:               true,
			ListWithStartAfter:          true,
			ListWithDelimiterSlash:      true,
			ListWithoutDelimiter:        true,
			Batch:                       true,
			BatchDelete:                 true,
			BatchMaxOperations:          1000,
		},
	}
}

func (a *Accessor) key(path string) string {
	return storage.AbsPath(a.root, path)
}

// ============================================================================
// Stat / Read
// ============================================================================

// Stat implements storage.Accessor.
func (a *Accessor) Stat(ctx context.Context, path string, opts storage.StatOptions) (storage.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return storage.Metadata{}, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if storage.IsDirPath(path) {
		if !a.dirExistsLocked(a.key(path)) {
			return storage.Metadata{}, storage.NewError(storage.KindNotFound, "directory not found")
		}
		return storage.NewMetadata(storage.ModeDir), nil
	}

	obj, ok := a.objects[a.key(path)]
	if !ok {
		return storage.Metadata{}, storage.NewError(storage.KindNotFound, "object not found")
	}
	if err := checkConditions(obj, opts.IfMatch, opts.IfNoneMatch); err != nil {
		return storage.Metadata{}, err
	}
	return obj.metadata(), nil
}

// Read implements storage.Accessor. The reader serves a copy of the data,
// so later writes do not affect it.
func (a *Accessor) Read(ctx context.Context, path string, opts storage.ReadOptions) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	obj, ok := a.objects[a.key(path)]
	if !ok {
		return nil, storage.NewError(storage.KindNotFound, "object not found")
	}
	if err := checkConditions(obj, opts.IfMatch, opts.IfNoneMatch); err != nil {
		return nil, err
	}

	data := obj.data
	if r := opts.Range; r != nil {
		start := min(r.Offset, int64(len(data)))
		end := int64(len(data))
		if r.Length >= 0 {
			end = min(start+r.Length, end)
		}
		data = data[start:end]
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	return storage.NopSeekCloser(bytes.NewReader(dataCopy)), nil
}

func checkConditions(obj *object, ifMatch, ifNoneMatch string) error {
	if ifMatch != "" && ifMatch != "*" && ifMatch != obj.etag {
		return storage.NewError(storage.KindConditionNotMatch, "etag %s does not match %s", obj.etag, ifMatch)
	}
	if ifNoneMatch != "" && (ifNoneMatch == "*" || ifNoneMatch == obj.etag) {
		return storage.NewError(storage.KindConditionNotMatch, "etag %s matches %s", obj.etag, ifNoneMatch)
	}
	return nil
}

func (o *object) metadata() storage.Metadata {
	md := storage.NewMetadata(storage.ModeFile).
		WithContentLength(int64(len(o.data))).
		WithETag(o.etag).
		WithContentMD5(o.md5).
		WithLastModified(o.modified).
		WithVersion(o.version)
	if o.contentType != "" {
		md = md.WithContentType(o.contentType)
	}
	if o.contentDisposition != "" {
		md = md.WithContentDisposition(o.contentDisposition)
	}
	if o.cacheControl != "" {
		md = md.WithCacheControl(o.cacheControl)
	}
	return md.WithRequested(storage.MetakeyComplete)
}

// ============================================================================
// Write / Delete / CreateDir
// ============================================================================

// Write implements storage.Accessor. Content becomes visible on Close.
func (a *Accessor) Write(ctx context.Context, path string, opts storage.WriteOptions) (storage.Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := a.key(path)
	return storage.NewBufferedWriter(ctx, func(ctx context.Context, data []byte) error {
		a.mu.Lock()
		defer a.mu.Unlock()

		if opts.Append {
			if prev, ok := a.objects[key]; ok {
				data = append(append([]byte(nil), prev.data...), data...)
			}
		}
		a.putLocked(key, data, opts)
		return nil
	}), nil
}

// putLocked stores a copy of data. Caller must hold the write lock.
func (a *Accessor) putLocked(key string, data []byte, opts storage.WriteOptions) {
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	sum := md5.Sum(dataCopy)
	a.version++
	a.objects[key] = &object{
		data:               dataCopy,
		contentType:        opts.ContentType,
		contentDisposition: opts.ContentDisposition,
		cacheControl:       opts.CacheControl,
		etag:               `"` + hex.EncodeToString(sum[:]) + `"`,
		md5:                base64.StdEncoding.EncodeToString(sum[:]),
		modified:           time.Now(),
		version:            strconv.FormatUint(a.version, 10),
	}
}

// Delete implements storage.Accessor. Deleting a directory removes its
// explicit marker only.
func (a *Accessor) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := a.key(path)
	if storage.IsDirPath(path) {
		delete(a.dirs, key)
		return nil
	}
	delete(a.objects, key)
	return nil
}

// CreateDir implements storage.Accessor.
func (a *Accessor) CreateDir(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := a.key(path)
	if _, ok := a.objects[strings.TrimSuffix(key, "/")]; ok {
		return storage.NewError(storage.KindNotADirectory, "a file exists at this path")
	}
	a.dirs[key] = struct{}{}
	return nil
}

// dirExistsLocked reports whether key is the root, an explicit directory
// or the prefix of an object. Caller must hold the lock.
func (a *Accessor) dirExistsLocked(key string) bool {
	if key == strings.TrimPrefix(a.root, "/") {
		return true
	}
	if _, ok := a.dirs[key]; ok {
		return true
	}
	for k := range a.objects {
		if strings.HasPrefix(k, key) {
			return true
		}
	}
	for k := range a.dirs {
		if strings.HasPrefix(k, key) {
			return true
		}
	}
	return false
}

// ============================================================================
// Copy / Rename / Batch
// ============================================================================

// Copy implements storage.Accessor.
func (a *Accessor) Copy(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	src, ok := a.objects[a.key(from)]
	if !ok {
		return storage.NewError(storage.KindNotFound, "source not found").WithPath(from)
	}
	a.putLocked(a.key(to), src.data, storage.WriteOptions{
		ContentType:        src.contentType,
		ContentDisposition: src.contentDisposition,
		CacheControl:       src.cacheControl,
	})
	return nil
}

// Rename implements storage.Accessor.
func (a *Accessor) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	fromKey := a.key(from)
	src, ok := a.objects[fromKey]
	if !ok {
		return storage.NewError(storage.KindNotFound, "source not found").WithPath(from)
	}
	a.objects[a.key(to)] = src
	delete(a.objects, fromKey)
	return nil
}

// Batch implements storage.Accessor. Every item succeeds independently.
func (a *Accessor) Batch(ctx context.Context, req storage.BatchRequest) ([]storage.BatchResult, error) {
	results := make([]storage.BatchResult, 0, len(req.Paths))
	for _, p := range req.Paths {
		results = append(results, storage.BatchResult{Path: p, Err: a.Delete(ctx, p)})
	}
	return results, nil
}

// ============================================================================
// List
// ============================================================================

// List implements storage.Accessor.
//
// The listing is a snapshot taken when List is called, served in pages of
// opts.Limit (or the configured page size) entries.
func (a *Accessor) List(ctx context.Context, path string, opts storage.ListOptions) (storage.Lister, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := a.snapshot(path, opts)
	pageSize := a.pageSize
	if opts.Limit > 0 {
		pageSize = opts.Limit
	}

	return storage.NewPageLister(func(ctx context.Context, token string) ([]storage.Entry, string, bool, error) {
		start := 0
		if token != "" {
			n, err := strconv.Atoi(token)
			if err != nil {
				return nil, "", false, storage.NewError(storage.KindUnexpected, "invalid page token %q", token)
			}
			start = n
		}
		end := min(start+pageSize, len(entries))
		return entries[start:end], strconv.Itoa(end), end >= len(entries), nil
	}), nil
}

func (a *Accessor) snapshot(path string, opts storage.ListOptions) []storage.Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	prefix := a.key(path)
	seen := make(map[string]storage.Entry)

	add := func(rel string, e storage.Entry) {
		if rel == path || (opts.StartAfter != "" && rel <= opts.StartAfter) {
			return
		}
		if _, dup := seen[rel]; !dup {
			seen[rel] = e
		}
	}

	for key, obj := range a.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if i := strings.Index(rest, "/"); i >= 0 && !opts.Recursive {
			rel := storage.RelPath(a.root, prefix+rest[:i+1])
			add(rel, storage.NewEntry(rel, storage.NewMetadata(storage.ModeDir)))
			continue
		}
		rel := storage.RelPath(a.root, key)
		add(rel, storage.NewEntry(rel, obj.metadata()))
	}
	for key := range a.dirs {
		if !strings.HasPrefix(key, prefix) || key == prefix {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if !opts.Recursive {
			rest = rest[:strings.Index(rest, "/")+1]
		}
		rel := storage.RelPath(a.root, prefix+rest)
		add(rel, storage.NewEntry(rel, storage.NewMetadata(storage.ModeDir)))
	}

	out := make([]storage.Entry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}
