package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/marmos91/dittostore/pkg/storage"
	storagetesting "github.com/marmos91/dittostore/pkg/storage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryAccessor runs the conformance suite against the memory backend.
func TestMemoryAccessor(t *testing.T) {
	suite := &storagetesting.Suite{
		NewOperator: func(t *testing.T) *storage.Operator {
			return storage.NewOperator(New(Config{}))
		},
	}

	suite.Run(t)
}

// TestMemoryAccessor_Root runs the suite again below a root, so keys and
// entry paths are mapped in both directions.
func TestMemoryAccessor_Root(t *testing.T) {
	suite := &storagetesting.Suite{
		NewOperator: func(t *testing.T) *storage.Operator {
			return storage.NewOperator(New(Config{Root: "/tenant/a", PageSize: 7}))
		},
	}

	suite.Run(t)
}

func TestMemoryAccessor_Pagination(t *testing.T) {
	ctx := context.Background()
	acc := New(Config{PageSize: 100})
	op := storage.NewOperator(acc)

	for i := 0; i < 250; i++ {
		require.NoError(t, op.Write(ctx, fmt.Sprintf("p/%03d", i), nil))
	}

	l, err := acc.List(ctx, "p/", storage.ListOptions{})
	require.NoError(t, err)

	seen := make(map[string]bool)
	entries, err := storage.Drain(ctx, l)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, seen[e.Path()], "duplicate entry %s", e.Path())
		seen[e.Path()] = true
	}
	assert.Len(t, seen, 250)
}

func TestMemoryAccessor_Conditions(t *testing.T) {
	ctx := context.Background()
	op := storage.NewOperator(New(Config{}))
	require.NoError(t, op.Write(ctx, "cond", []byte("data")))

	md, err := op.Stat(ctx, "cond")
	require.NoError(t, err)
	etag := md.ETag().Value()

	_, err = op.StatWithOptions(ctx, "cond", storage.StatOptions{IfMatch: etag})
	assert.NoError(t, err)

	_, err = op.StatWithOptions(ctx, "cond", storage.StatOptions{IfMatch: `"other"`})
	assert.ErrorIs(t, err, storage.ErrConditionNotMatch)

	_, err = op.ReadWithOptions(ctx, "cond", storage.ReadOptions{IfNoneMatch: etag})
	assert.ErrorIs(t, err, storage.ErrConditionNotMatch)
}

func TestMemoryAccessor_VersionChangesOnWrite(t *testing.T) {
	ctx := context.Background()
	op := storage.NewOperator(New(Config{}))

	require.NoError(t, op.Write(ctx, "v", []byte("1")))
	first, err := op.Stat(ctx, "v")
	require.NoError(t, err)

	require.NoError(t, op.Write(ctx, "v", []byte("2")))
	second, err := op.Stat(ctx, "v")
	require.NoError(t, err)

	assert.NotEqual(t, first.Version().Value(), second.Version().Value())
	assert.NotEqual(t, first.ETag().Value(), second.ETag().Value())
}
