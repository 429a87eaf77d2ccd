package badger

import (
	"context"
	"fmt"
	"testing"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittostore/pkg/storage"
	storagetesting "github.com/marmos91/dittostore/pkg/storage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccessor(t *testing.T, cfg Config) *Accessor {
	t.Helper()
	if cfg.Path == "" {
		cfg.InMemory = true
	}
	if cfg.BlockCacheSizeMB == 0 {
		cfg.BlockCacheSizeMB = 4
	}
	acc, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return acc
}

// TestBadgerAccessor runs the conformance suite against an in-memory
// database.
func TestBadgerAccessor(t *testing.T) {
	suite := &storagetesting.Suite{
		NewOperator: func(t *testing.T) *storage.Operator {
			return storage.NewOperator(newTestAccessor(t, Config{PageSize: 16}))
		},
	}

	suite.Run(t)
}

func TestBadgerAccessor_Root(t *testing.T) {
	suite := &storagetesting.Suite{
		NewOperator: func(t *testing.T) *storage.Operator {
			return storage.NewOperator(newTestAccessor(t, Config{Root: "/tenant", PageSize: 7}))
		},
	}

	suite.Run(t)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Config{})
	storagetesting.AssertKind(t, storage.KindConfigInvalid, err)

	_, err = New(context.Background(), Config{InMemory: true, Compression: "lz4"})
	storagetesting.AssertKind(t, storage.KindConfigInvalid, err)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	acc := newTestAccessor(t, Config{Path: dir, Compression: "snappy"})
	op := storage.NewOperator(acc)
	require.NoError(t, op.Write(ctx, "kept/file", []byte("durable")))
	require.NoError(t, op.Close())

	reopened := storage.NewOperator(newTestAccessor(t, Config{Path: dir, Compression: "snappy"}))
	t.Cleanup(func() { _ = reopened.Close() })

	data, err := reopened.Read(ctx, "kept/file")
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), data)
}

func TestList_SkipsChildRanges(t *testing.T) {
	ctx := context.Background()
	acc := newTestAccessor(t, Config{PageSize: 2})
	op := storage.NewOperator(acc)
	t.Cleanup(func() { _ = op.Close() })

	for i := 0; i < 20; i++ {
		require.NoError(t, op.Write(ctx, fmt.Sprintf("d/big/%02d", i), nil))
	}
	require.NoError(t, op.Write(ctx, "d/a", nil))
	require.NoError(t, op.Write(ctx, "d/z", nil))

	entries, err := op.ListAll(ctx, "d/", storage.ListOptions{})
	require.NoError(t, err)
	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path())
	}
	assert.Equal(t, []string{"d/a", "d/big/", "d/z"}, paths)
}

func TestList_StartAfterInsideChild(t *testing.T) {
	ctx := context.Background()
	op := storage.NewOperator(newTestAccessor(t, Config{}))
	t.Cleanup(func() { _ = op.Close() })

	for _, p := range []string{"s/a/1", "s/a/2", "s/b"} {
		require.NoError(t, op.Write(ctx, p, nil))
	}

	entries, err := op.ListAll(ctx, "s/", storage.ListOptions{StartAfter: "s/a/1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s/b", entries[0].Path())
}

func TestRename_Atomic(t *testing.T) {
	ctx := context.Background()
	acc := newTestAccessor(t, Config{})
	op := storage.NewOperator(acc)
	t.Cleanup(func() { _ = op.Close() })

	require.NoError(t, op.WriteWithOptions(ctx, "src", []byte("payload"), storage.WriteOptions{ContentType: "text/plain"}))
	before, err := op.Stat(ctx, "src")
	require.NoError(t, err)

	require.NoError(t, op.Rename(ctx, "src", "dst"))

	_, err = op.Stat(ctx, "src")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	after, err := op.Stat(ctx, "dst")
	require.NoError(t, err)
	assert.Equal(t, before.ETag().Value(), after.ETag().Value(), "content is unchanged")
	assert.NotEqual(t, before.Version().Value(), after.Version().Value(), "the destination is a new version")
	assert.Equal(t, "text/plain", after.ContentType().Value())
}

func TestWrite_AppendKeepsContentType(t *testing.T) {
	ctx := context.Background()
	op := storage.NewOperator(newTestAccessor(t, Config{}))
	t.Cleanup(func() { _ = op.Close() })

	require.NoError(t, op.WriteWithOptions(ctx, "log", []byte("a"), storage.WriteOptions{Append: true, ContentType: "text/plain"}))
	require.NoError(t, op.WriteWithOptions(ctx, "log", []byte("b"), storage.WriteOptions{Append: true}))

	data, err := op.Read(ctx, "log")
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), data)

	md, err := op.Stat(ctx, "log")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", md.ContentType().Value())
}

func TestWrite_LargeObjectInMemory(t *testing.T) {
	ctx := context.Background()
	acc := newTestAccessor(t, Config{})
	op := storage.NewOperator(acc)
	t.Cleanup(func() { _ = op.Close() })

	payload := make([]byte, 3<<20+17)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	require.NoError(t, op.Write(ctx, "big", payload))

	data, err := op.Read(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// A range spanning a chunk boundary.
	off := int64(ChunkSize - 10)
	part, err := op.ReadWithOptions(ctx, "big", storage.ReadOptions{Range: &storage.BytesRange{Offset: off, Length: 20}})
	require.NoError(t, err)
	assert.Equal(t, payload[off:off+20], part)

	chunkExists := func(i int64) bool {
		err := acc.db.View(func(txn *badgerdb.Txn) error {
			_, err := txn.Get(keyChunk(acc.key("big"), i))
			return err
		})
		return err == nil
	}
	require.True(t, chunkExists(12))

	// Overwriting with a smaller object drops the stale chunks.
	require.NoError(t, op.Write(ctx, "big", []byte("small")))
	data, err = op.Read(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, []byte("small"), data)
	assert.True(t, chunkExists(0))
	assert.False(t, chunkExists(1))

	require.NoError(t, op.Delete(ctx, "big"))
	assert.False(t, chunkExists(0))
}

func TestBatch_RejectsOversizedRequest(t *testing.T) {
	acc := newTestAccessor(t, Config{})
	t.Cleanup(func() { _ = acc.Close() })

	paths := make([]string, MaxBatchOperations+1)
	for i := range paths {
		paths[i] = fmt.Sprintf("x/%d", i)
	}
	_, err := acc.Batch(context.Background(), storage.BatchRequest{Paths: paths})
	storagetesting.AssertKind(t, storage.KindInvalidInput, err)
}

func TestCreateDir_OverFile(t *testing.T) {
	ctx := context.Background()
	op := storage.NewOperator(newTestAccessor(t, Config{}))
	t.Cleanup(func() { _ = op.Close() })

	require.NoError(t, op.Write(ctx, "plain", []byte("x")))
	storagetesting.AssertKind(t, storage.KindNotADirectory, op.CreateDir(ctx, "plain/"))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      storage.ErrorKind
		temporary bool
	}{
		{"NotFound", badgerdb.ErrKeyNotFound, storage.KindNotFound, false},
		{"Conflict", badgerdb.ErrConflict, storage.KindUnexpected, true},
		{"TooBig", badgerdb.ErrTxnTooBig, storage.KindInvalidInput, false},
		{"Wrapped", fmt.Errorf("get: %w", badgerdb.ErrKeyNotFound), storage.KindNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError(tt.err)
			storagetesting.AssertKind(t, tt.kind, err)
			assert.Equal(t, tt.temporary, storage.IsTemporary(err))
		})
	}

	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(context.Canceled), context.Canceled)
}
