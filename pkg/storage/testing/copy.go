package testing

import (
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCopyRenameTests executes copy and rename tests, native or emulated.
func (suite *Suite) RunCopyRenameTests(t *testing.T) {
	t.Run("Copy", suite.testCopy)
	t.Run("Copy_SameFile", suite.testCopySameFile)
	t.Run("Copy_NotFound", suite.testCopyNotFound)
	t.Run("Rename", suite.testRename)
}

func (suite *Suite) testCopy(t *testing.T) {
	op := suite.newOperator(t)
	if !capability(op).Copy {
		AssertKind(t, storage.KindUnsupported, op.Copy(testContext(), "src", "dst"))
		return
	}
	mustWrite(t, op, "copy/src", []byte("payload"))

	require.NoError(t, op.Copy(testContext(), "copy/src", "copy/dst"))

	assertContentEquals(t, op, "copy/src", []byte("payload"))
	assertContentEquals(t, op, "copy/dst", []byte("payload"))
}

func (suite *Suite) testCopySameFile(t *testing.T) {
	op := suite.newOperator(t)
	if !capability(op).Copy {
		t.Skip("copy not supported")
	}
	mustWrite(t, op, "same", []byte("x"))

	AssertKind(t, storage.KindIsSameFile, op.Copy(testContext(), "same", "/same"))
}

func (suite *Suite) testCopyNotFound(t *testing.T) {
	op := suite.newOperator(t)
	if !capability(op).Copy {
		t.Skip("copy not supported")
	}

	AssertKind(t, storage.KindNotFound, op.Copy(testContext(), "copy/missing", "copy/dst"))
}

func (suite *Suite) testRename(t *testing.T) {
	op := suite.newOperator(t)
	if !capability(op).Rename {
		AssertKind(t, storage.KindUnsupported, op.Rename(testContext(), "src", "dst"))
		return
	}
	mustWrite(t, op, "rename/src", []byte("payload"))

	require.NoError(t, op.Rename(testContext(), "rename/src", "rename/dst"))

	assertExists(t, op, "rename/src", false)
	assertContentEquals(t, op, "rename/dst", []byte("payload"))
}

// RunBatchTests executes batch delete tests.
func (suite *Suite) RunBatchTests(t *testing.T) {
	t.Run("Batch_Delete", suite.testBatchDelete)
	t.Run("Batch_InvalidPath", suite.testBatchInvalidPath)
}

func (suite *Suite) testBatchDelete(t *testing.T) {
	op := suite.newOperator(t)
	if !capability(op).Batch {
		_, err := op.Batch(testContext(), []string{"a"})
		AssertKind(t, storage.KindUnsupported, err)
		return
	}
	paths := []string{"batch/a", "batch/b", "batch/c"}
	for _, p := range paths {
		mustWrite(t, op, p, []byte(p))
	}

	results, err := op.Batch(testContext(), append(paths, "batch/missing"))
	require.NoError(t, err)
	require.Len(t, results, 4)

	for _, r := range results {
		assert.NoError(t, r.Err, "delete of %s", r.Path)
	}
	for _, p := range paths {
		assertExists(t, op, p, false)
	}
}

func (suite *Suite) testBatchInvalidPath(t *testing.T) {
	op := suite.newOperator(t)
	if !capability(op).Batch {
		t.Skip("batch not supported")
	}
	mustWrite(t, op, "batch/ok", []byte("x"))

	results, err := op.Batch(testContext(), []string{"../escape", "batch/ok"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	AssertKind(t, storage.KindInvalidInput, results[0].Err)
	assert.NoError(t, results[1].Err)
	assertExists(t, op, "batch/ok", false)
}

// RunPresignTests executes presign tests.
func (suite *Suite) RunPresignTests(t *testing.T) {
	t.Run("Presign", suite.testPresign)
	t.Run("Presign_InvalidExpire", suite.testPresignInvalidExpire)
}

func (suite *Suite) testPresign(t *testing.T) {
	op := suite.newOperator(t)
	opts := storage.PresignOptions{Operation: storage.PresignRead, Expire: time.Hour}

	if !capability(op).Presign {
		_, err := op.Presign(testContext(), "presigned", opts)
		AssertKind(t, storage.KindUnsupported, err)
		return
	}

	req, err := op.Presign(testContext(), "presigned", opts)
	require.NoError(t, err)
	assert.Equal(t, "GET", req.Method())
	assert.NotEmpty(t, req.URI())

	seen := make(map[string]bool)
	for _, k := range req.HeaderKeys() {
		lower := strings.ToLower(k)
		assert.False(t, seen[lower], "duplicate header %s", k)
		seen[lower] = true
	}
}

func (suite *Suite) testPresignInvalidExpire(t *testing.T) {
	op := suite.newOperator(t)
	if !capability(op).Presign {
		t.Skip("presign not supported")
	}

	_, err := op.Presign(testContext(), "presigned", storage.PresignOptions{Operation: storage.PresignRead})
	AssertKind(t, storage.KindInvalidInput, err)
}
