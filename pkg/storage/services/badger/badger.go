// Package badger implements a storage.Accessor on an embedded BadgerDB.
//
// Objects are kept as a JSON metadata record plus raw data chunks (see
// keys.go). Every mutation runs in a single badger transaction, so writes,
// copies and renames are atomic and batches are all-or-nothing.
package badger

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/storage"
)

// Scheme is the scheme name of the badger backend.
const Scheme = "badger"

const (
	// DefaultPageSize is the listing page size when the caller gives no
	// limit. Every page is served by its own read transaction.
	DefaultPageSize = 256

	// MaxBatchOperations bounds the deletes committed in one transaction.
	MaxBatchOperations = 1000
)

// Config configures the badger backend.
type Config struct {
	// Path is the directory holding the database files. Required unless
	// InMemory is set.
	Path string `mapstructure:"path" validate:"required_without=InMemory"`

	// InMemory keeps the whole database in memory. Data is lost on Close.
	InMemory bool `mapstructure:"in_memory"`

	Root string `mapstructure:"root"`
	Name string `mapstructure:"name"`

	PageSize int `mapstructure:"page_size" validate:"omitempty,gte=1,lte=10000"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `mapstructure:"sync_writes"`

	// Compression is one of "none", "snappy" or "zstd". Default: "none".
	Compression string `mapstructure:"compression" validate:"omitempty,oneof=none snappy zstd"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 256).
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb" validate:"omitempty,gte=0"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 0,
	// indices stay in memory).
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb" validate:"omitempty,gte=0"`
}

// Accessor implements storage.Accessor on BadgerDB.
//
// Thread Safety:
// Safe for concurrent use. Badger's optimistic transactions detect
// conflicting writes; a conflict is reported as a temporary error so the
// retry layer can replay it.
type Accessor struct {
	storage.UnsupportedAccessor

	db       *badger.DB
	root     string
	name     string
	pageSize int
}

// New opens (or creates) the database described by cfg.
//
// Parameters:
//   - ctx: Context for cancellation before the database is opened
//   - cfg: backend configuration
//
// Returns:
//   - *Accessor: ready to use; Close releases the database
//   - error: ConfigInvalid for bad settings, Unexpected if badger fails to open
func New(ctx context.Context, cfg Config) (*Accessor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Path == "" && !cfg.InMemory {
		return nil, storage.NewError(storage.KindConfigInvalid, "badger backend: path is required")
	}

	compression, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING).
		WithCompression(compression).
		WithSyncWrites(cfg.SyncWrites)

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 256
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	if cfg.IndexCacheSizeMB > 0 {
		opts = opts.WithIndexCacheSize(cfg.IndexCacheSizeMB << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.NewError(storage.KindUnexpected, "failed to open BadgerDB at %q", cfg.Path).WithCause(err)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	acc := &Accessor{
		db:       db,
		root:     storage.NormalizeRoot(cfg.Root),
		name:     cfg.Name,
		pageSize: pageSize,
	}
	if cfg.InMemory {
		logger.Debug("Badger backend opened in memory: root=%s", acc.root)
	} else {
		logger.Info("Badger backend opened: path=%s, root=%s", cfg.Path, acc.root)
	}
	return acc, nil
}

func parseCompression(s string) (options.CompressionType, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return options.None, nil
	case "snappy":
		return options.Snappy, nil
	case "zstd":
		return options.ZSTD, nil
	default:
		return options.None, storage.NewError(storage.KindConfigInvalid, "badger backend: unknown compression %q", s)
	}
}

// Close closes the database. The accessor must not be used afterwards.
func (a *Accessor) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
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
			BatchMaxOperations:          MaxBatchOperations,
			Blocking:                    true,
		},
	}
}

func (a *Accessor) key(path string) string {
	return storage.AbsPath(a.root, path)
}

// mapError converts a badger error into a storage error.
func mapError(err error) error {
	var se *storage.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &se):
		return se
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, badger.ErrKeyNotFound):
		return storage.NewError(storage.KindNotFound, "key not found").WithCause(err)
	case errors.Is(err, badger.ErrConflict):
		return storage.NewError(storage.KindUnexpected, "transaction conflict").WithCause(err).SetTemporary()
	case errors.Is(err, badger.ErrTxnTooBig):
		return storage.NewError(storage.KindInvalidInput, "operation exceeds the transaction size limit").WithCause(err)
	default:
		return storage.NewError(storage.KindUnexpected, "badger operation failed").WithCause(err)
	}
}

// getRecord loads the record at key within txn.
func getRecord(txn *badger.Txn, key string) (*record, error) {
	item, err := txn.Get(keyRecord(key))
	if err != nil {
		return nil, err
	}
	var r *record
	err = item.Value(func(val []byte) error {
		var derr error
		r, derr = decodeRecord(val)
		return derr
	})
	return r, err
}

// getObject loads the record and data of the file at key within txn.
func getObject(txn *badger.Txn, key string) (*record, []byte, error) {
	r, err := getRecord(txn, key)
	if err != nil {
		return nil, nil, err
	}
	data, err := getData(txn, key, r, 0, r.Size)
	if err != nil {
		return nil, nil, err
	}
	return r, data, nil
}

// getData loads bytes [start, end) of the file described by r, reading
// only the chunks that overlap the range.
func getData(txn *badger.Txn, key string, r *record, start, end int64) ([]byte, error) {
	if start >= end || r.chunks() == 0 {
		return []byte{}, nil
	}

	data := make([]byte, 0, end-start)
	for i := start / r.Chunk; i*r.Chunk < end; i++ {
		item, err := txn.Get(keyChunk(key, i))
		if err != nil {
			return nil, err
		}
		base := i * r.Chunk
		err = item.Value(func(val []byte) error {
			lo := max(start-base, 0)
			hi := min(end-base, int64(len(val)))
			if lo < hi {
				data = append(data, val[lo:hi]...)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

// putObject stores data at key within txn with a fresh etag and version,
// replacing whatever file was there.
func putObject(txn *badger.Txn, key string, data []byte, meta record) error {
	if err := deleteChunks(txn, key); err != nil {
		return err
	}

	sum := md5.Sum(data)
	meta.Dir = false
	meta.Size = int64(len(data))
	meta.Chunk = ChunkSize
	meta.ETag = `"` + hex.EncodeToString(sum[:]) + `"`
	meta.MD5 = base64.StdEncoding.EncodeToString(sum[:])
	meta.Modified = time.Now().UTC()
	meta.Version = uuid.NewString()

	encoded, err := encodeRecord(&meta)
	if err != nil {
		return err
	}
	if err := txn.Set(keyRecord(key), encoded); err != nil {
		return err
	}
	for i := int64(0); i < meta.chunks(); i++ {
		lo := i * meta.Chunk
		hi := min(lo+meta.Chunk, meta.Size)
		if err := txn.Set(keyChunk(key, i), data[lo:hi]); err != nil {
			return err
		}
	}
	return nil
}

// deleteChunks removes the data chunks of the file at key, if any.
func deleteChunks(txn *badger.Txn, key string) error {
	r, err := getRecord(txn, key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	for i := int64(0); i < r.chunks(); i++ {
		if err := txn.Delete(keyChunk(key, i)); err != nil {
			return err
		}
	}
	return nil
}

func deleteObject(txn *badger.Txn, key string) error {
	if err := deleteChunks(txn, key); err != nil {
		return err
	}
	return txn.Delete(keyRecord(key))
}

// ============================================================================
// Stat / Read
// ============================================================================

// Stat implements storage.Accessor.
func (a *Accessor) Stat(ctx context.Context, path string, opts storage.StatOptions) (storage.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return storage.Metadata{}, err
	}

	key := a.key(path)
	if storage.IsDirPath(path) {
		exists, err := a.dirExists(key)
		if err != nil {
			return storage.Metadata{}, mapError(err)
		}
		if !exists {
			return storage.Metadata{}, storage.NewError(storage.KindNotFound, "directory not found")
		}
		return storage.NewMetadata(storage.ModeDir), nil
	}

	var md storage.Metadata
	err := a.db.View(func(txn *badger.Txn) error {
		r, err := getRecord(txn, key)
		if err != nil {
			return err
		}
		if err := r.checkConditions(opts.IfMatch, opts.IfNoneMatch); err != nil {
			return err
		}
		md = r.metadata()
		return nil
	})
	return md, mapError(err)
}

// dirExists reports whether key is the root, an explicit directory or the
// prefix of at least one record.
func (a *Accessor) dirExists(key string) (bool, error) {
	if key == strings.TrimPrefix(a.root, "/") {
		return true, nil
	}

	exists := false
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = keyRecord(key)

		it := txn.NewIterator(opts)
		defer it.Close()

		it.Rewind()
		exists = it.Valid()
		return nil
	})
	return exists, err
}

// Read implements storage.Accessor. The requested range is loaded from one
// read transaction, so the reader sees a consistent snapshot.
func (a *Accessor) Read(ctx context.Context, path string, opts storage.ReadOptions) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := a.db.View(func(txn *badger.Txn) error {
		key := a.key(path)
		r, err := getRecord(txn, key)
		if err != nil {
			return err
		}
		if err := r.checkConditions(opts.IfMatch, opts.IfNoneMatch); err != nil {
			return err
		}

		start, end := int64(0), r.Size
		if rng := opts.Range; rng != nil {
			start = min(rng.Offset, r.Size)
			if rng.Length >= 0 {
				end = min(start+rng.Length, end)
			}
		}
		data, err = getData(txn, key, r, start, end)
		return err
	})
	if err != nil {
		return nil, mapError(err)
	}

	return storage.NopSeekCloser(bytes.NewReader(data)), nil
}

// ============================================================================
// Write / Delete / CreateDir
// ============================================================================

// Write implements storage.Accessor. Content is buffered and committed in
// one transaction on Close.
func (a *Accessor) Write(ctx context.Context, path string, opts storage.WriteOptions) (storage.Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := a.key(path)
	meta := record{
		ContentType:        opts.ContentType,
		ContentDisposition: opts.ContentDisposition,
		CacheControl:       opts.CacheControl,
	}
	return storage.NewBufferedWriter(ctx, func(ctx context.Context, data []byte) error {
		err := a.db.Update(func(txn *badger.Txn) error {
			if opts.Append {
				prev, prevData, err := getObject(txn, key)
				switch {
				case err == nil:
					data = append(prevData, data...)
					if meta.ContentType == "" {
						meta.ContentType = prev.ContentType
					}
				case !errors.Is(err, badger.ErrKeyNotFound):
					return err
				}
			}
			return putObject(txn, key, data, meta)
		})
		return mapError(err)
	}), nil
}

// Delete implements storage.Accessor. Deleting a directory removes its
// explicit marker only.
func (a *Accessor) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := a.key(path)
	err := a.db.Update(func(txn *badger.Txn) error {
		if storage.IsDirPath(path) {
			return txn.Delete(keyRecord(key))
		}
		return deleteObject(txn, key)
	})
	return mapError(err)
}

// CreateDir implements storage.Accessor by storing a directory record.
func (a *Accessor) CreateDir(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := a.key(path)
	err := a.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(keyRecord(strings.TrimSuffix(key, "/")))
		switch {
		case err == nil:
			return storage.NewError(storage.KindNotADirectory, "a file exists at this path")
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		encoded, err := encodeRecord(&record{Dir: true, Modified: time.Now().UTC()})
		if err != nil {
			return err
		}
		return txn.Set(keyRecord(key), encoded)
	})
	return mapError(err)
}

// ============================================================================
// Copy / Rename / Batch
// ============================================================================

// Copy implements storage.Accessor.
func (a *Accessor) Copy(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.move(from, to, false)
}

// Rename implements storage.Accessor. The source disappears in the same
// transaction the destination appears in.
func (a *Accessor) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.move(from, to, true)
}

func (a *Accessor) move(from, to string, removeSource bool) error {
	fromKey, toKey := a.key(from), a.key(to)
	err := a.db.Update(func(txn *badger.Txn) error {
		r, data, err := getObject(txn, fromKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.NewError(storage.KindNotFound, "source not found").WithPath(from)
		}
		if err != nil {
			return err
		}

		if err := putObject(txn, toKey, data, *r); err != nil {
			return err
		}
		if removeSource {
			return deleteObject(txn, fromKey)
		}
		return nil
	})
	return mapError(err)
}

// Batch implements storage.Accessor. All deletes commit in one
// transaction: either every path is removed or the call fails as a whole.
func (a *Accessor) Batch(ctx context.Context, req storage.BatchRequest) ([]storage.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Paths) > MaxBatchOperations {
		return nil, storage.NewError(storage.KindInvalidInput,
			"batch of %d paths exceeds the limit of %d", len(req.Paths), MaxBatchOperations)
	}

	err := a.db.Update(func(txn *badger.Txn) error {
		for _, p := range req.Paths {
			key := a.key(p)
			if storage.IsDirPath(p) {
				if err := txn.Delete(keyRecord(key)); err != nil {
					return err
				}
				continue
			}
			if err := deleteObject(txn, key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}

	results := make([]storage.BatchResult, len(req.Paths))
	for i, p := range req.Paths {
		results[i] = storage.BatchResult{Path: p}
	}
	return results, nil
}
