package redis

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/redis/go-redis/v9"
)

// ============================================================================
// Stat / Read
// ============================================================================

// Stat implements storage.Accessor.
func (a *Accessor) Stat(ctx context.Context, path string, opts storage.StatOptions) (storage.Metadata, error) {
	key := a.objectKey(path)
	if storage.IsDirPath(path) {
		exists, err := a.dirExists(ctx, key)
		if err != nil {
			return storage.Metadata{}, mapError(err)
		}
		if !exists {
			return storage.Metadata{}, storage.NewError(storage.KindNotFound, "directory not found")
		}
		return storage.NewMetadata(storage.ModeDir), nil
	}

	h, err := a.client.HGetAll(ctx, a.metaKey(key)).Result()
	if err != nil {
		return storage.Metadata{}, mapError(err)
	}
	m, ok, err := parseObjectMeta(h)
	if err != nil {
		return storage.Metadata{}, err
	}
	if !ok {
		return storage.Metadata{}, storage.NewError(storage.KindNotFound, "object not found")
	}
	if err := m.checkConditions(opts.IfMatch, opts.IfNoneMatch); err != nil {
		return storage.Metadata{}, err
	}
	return m.metadata(), nil
}

// dirExists reports whether key is the root, an explicit directory or the
// prefix of at least one object.
func (a *Accessor) dirExists(ctx context.Context, key string) (bool, error) {
	if key == strings.TrimPrefix(a.root, "/") {
		return true, nil
	}

	n, err := a.client.Exists(ctx, a.metaKey(key)).Result()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	pattern := escapeGlob(a.metaKey(key)) + "*"
	var cursor uint64
	for {
		keys, next, err := a.client.Scan(ctx, cursor, pattern, int64(a.pageSize)).Result()
		if err != nil {
			return false, err
		}
		if len(keys) > 0 {
			return true, nil
		}
		cursor = next
		if cursor == 0 {
			return false, nil
		}
	}
}

// Read implements storage.Accessor. Metadata and data are fetched in one
// MULTI block, so conditions are checked against the bytes returned.
func (a *Accessor) Read(ctx context.Context, path string, opts storage.ReadOptions) (io.ReadCloser, error) {
	key := a.objectKey(path)

	start, end := int64(0), int64(-1)
	empty := false
	if r := opts.Range; r != nil {
		start = r.Offset
		if r.Length == 0 {
			empty = true
		} else if r.Length > 0 {
			end = r.Offset + r.Length - 1
		}
	}

	var (
		hget *redis.MapStringStringCmd
		get  *redis.StringCmd
	)
	_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hget = pipe.HGetAll(ctx, a.metaKey(key))
		if !empty {
			get = pipe.GetRange(ctx, a.dataKey(key), start, end)
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}

	m, ok, err := parseObjectMeta(hget.Val())
	if err != nil {
		return nil, err
	}
	if !ok || m.dir {
		return nil, storage.NewError(storage.KindNotFound, "object not found")
	}
	if err := m.checkConditions(opts.IfMatch, opts.IfNoneMatch); err != nil {
		return nil, err
	}

	var data []byte
	if get != nil {
		data = []byte(get.Val())
	}
	return storage.NopSeekCloser(bytes.NewReader(data)), nil
}

// ============================================================================
// Write / Delete / CreateDir
// ============================================================================

// Write implements storage.Accessor. Content is buffered and stored with
// one MULTI block on Close.
func (a *Accessor) Write(ctx context.Context, path string, opts storage.WriteOptions) (storage.Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := a.objectKey(path)
	return storage.NewBufferedWriter(ctx, func(ctx context.Context, data []byte) error {
		if opts.Append {
			return mapError(a.appendObject(ctx, key, data, opts))
		}
		_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			a.queuePut(ctx, pipe, key, data, newObjectMeta(data, opts))
			return nil
		})
		return mapError(err)
	}), nil
}

// appendObject extends the object at key under WATCH.
func (a *Accessor) appendObject(ctx context.Context, key string, data []byte, opts storage.WriteOptions) error {
	dk, mk := a.dataKey(key), a.metaKey(key)
	return a.client.Watch(ctx, func(tx *redis.Tx) error {
		prev, err := tx.Get(ctx, dk).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		h, err := tx.HGetAll(ctx, mk).Result()
		if err != nil {
			return err
		}
		if old, ok, _ := parseObjectMeta(h); ok && opts.ContentType == "" {
			opts.ContentType = old.contentType
		}

		full := append(prev, data...)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			a.queuePut(ctx, pipe, key, full, newObjectMeta(full, opts))
			return nil
		})
		return err
	}, dk, mk)
}

// queuePut queues the commands storing one object. The metadata hash is
// recreated so no stale optional field survives an overwrite.
func (a *Accessor) queuePut(ctx context.Context, pipe redis.Pipeliner, key string, data []byte, m objectMeta) {
	mk := a.metaKey(key)
	pipe.Set(ctx, a.dataKey(key), data, a.ttl)
	pipe.Del(ctx, mk)
	pipe.HSet(ctx, mk, m.fields())
	if a.ttl > 0 {
		pipe.Expire(ctx, mk, a.ttl)
	}
}

// Delete implements storage.Accessor. Deleting a directory removes its
// explicit marker only.
func (a *Accessor) Delete(ctx context.Context, path string) error {
	key := a.objectKey(path)
	if storage.IsDirPath(path) {
		return mapError(a.client.Del(ctx, a.metaKey(key)).Err())
	}
	return mapError(a.client.Del(ctx, a.dataKey(key), a.metaKey(key)).Err())
}

// CreateDir implements storage.Accessor by storing a directory marker hash.
func (a *Accessor) CreateDir(ctx context.Context, path string) error {
	key := a.objectKey(path)

	n, err := a.client.Exists(ctx, a.metaKey(strings.TrimSuffix(key, "/"))).Result()
	if err != nil {
		return mapError(err)
	}
	if n > 0 {
		return storage.NewError(storage.KindNotADirectory, "a file exists at this path")
	}

	marker := objectMeta{dir: true, modified: time.Now().UTC()}
	return mapError(a.client.HSet(ctx, a.metaKey(key), marker.fields()).Err())
}

// ============================================================================
// Rename / Batch
// ============================================================================

// Rename implements storage.Accessor with RENAME of both keys inside one
// MULTI block. Remaining TTLs move with the keys.
func (a *Accessor) Rename(ctx context.Context, from, to string) error {
	fromKey, toKey := a.objectKey(from), a.objectKey(to)
	srcData, srcMeta := a.dataKey(fromKey), a.metaKey(fromKey)

	err := a.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, srcMeta).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.NewError(storage.KindNotFound, "source not found").WithPath(from)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Rename(ctx, srcData, a.dataKey(toKey))
			pipe.Rename(ctx, srcMeta, a.metaKey(toKey))
			return nil
		})
		return err
	}, srcData, srcMeta)
	return mapError(err)
}

// Batch implements storage.Accessor. Deletes are pipelined; every item
// reports its own result.
func (a *Accessor) Batch(ctx context.Context, req storage.BatchRequest) ([]storage.BatchResult, error) {
	if len(req.Paths) > MaxBatchOperations {
		return nil, storage.NewError(storage.KindInvalidInput,
			"batch of %d paths exceeds the limit of %d", len(req.Paths), MaxBatchOperations)
	}

	// Pipelined reports the first failed command; every command carries
	// its own result, connection failures included.
	cmds := make([]*redis.IntCmd, len(req.Paths))
	_, _ = a.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, p := range req.Paths {
			key := a.objectKey(p)
			if storage.IsDirPath(p) {
				cmds[i] = pipe.Del(ctx, a.metaKey(key))
				continue
			}
			cmds[i] = pipe.Del(ctx, a.dataKey(key), a.metaKey(key))
		}
		return nil
	})

	results := make([]storage.BatchResult, len(req.Paths))
	for i, p := range req.Paths {
		results[i] = storage.BatchResult{Path: p, Err: mapError(cmds[i].Err())}
	}
	return results, nil
}
