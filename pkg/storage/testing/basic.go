package testing

import (
	"io"
	"testing"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBasicTests executes stat, read and delete tests.
func (suite *Suite) RunBasicTests(t *testing.T) {
	t.Run("WriteRead_RoundTrip", suite.testRoundTrip)
	t.Run("Write_Overwrite", suite.testOverwrite)
	t.Run("Stat_ZeroLength", suite.testStatZeroLength)
	t.Run("Stat_NotFound", suite.testStatNotFound)
	t.Run("Stat_Idempotent", suite.testStatIdempotent)
	t.Run("Stat_MetakeySubset", suite.testStatMetakeySubset)
	t.Run("Stat_Complete", suite.testStatComplete)
	t.Run("Read_Range", suite.testReadRange)
	t.Run("Read_NotFound", suite.testReadNotFound)
	t.Run("Read_Directory", suite.testReadDirectory)
	t.Run("Delete_Success", suite.testDeleteSuccess)
	t.Run("Delete_Idempotent", suite.testDeleteIdempotent)
	t.Run("CreateDir", suite.testCreateDir)
}

// ============================================================================
// Write / Read
// ============================================================================

func (suite *Suite) testRoundTrip(t *testing.T) {
	op := suite.newOperator(t)

	for _, size := range []int{0, 1, 4096, 1 << 20} {
		path := testPath("roundtrip", size)
		data := generateData(size)

		mustWrite(t, op, path, data)
		assertContentEquals(t, op, path, data)
		assert.Equal(t, int64(size), mustStat(t, op, path).ContentLength(), "length mismatch for %d bytes", size)
	}
}

func (suite *Suite) testOverwrite(t *testing.T) {
	op := suite.newOperator(t)

	mustWrite(t, op, "overwrite", []byte("old data"))
	mustWrite(t, op, "overwrite", []byte("new data that is longer"))

	assertContentEquals(t, op, "overwrite", []byte("new data that is longer"))
}

func (suite *Suite) testReadRange(t *testing.T) {
	op := suite.newOperator(t)
	data := generateData(100)
	mustWrite(t, op, "range", data)

	got, err := op.ReadWithOptions(testContext(), "range", storage.ReadOptions{Range: storage.NewBytesRange(10, 20)})
	require.NoError(t, err)
	assert.Equal(t, data[10:30], got)

	got, err = op.ReadWithOptions(testContext(), "range", storage.ReadOptions{Range: storage.NewBytesRange(90, -1)})
	require.NoError(t, err)
	assert.Equal(t, data[90:], got)
}

func (suite *Suite) testReadNotFound(t *testing.T) {
	op := suite.newOperator(t)

	_, err := op.Read(testContext(), "missing")
	AssertKind(t, storage.KindNotFound, err)
}

func (suite *Suite) testReadDirectory(t *testing.T) {
	op := suite.newOperator(t)

	_, err := op.Read(testContext(), "dir/")
	AssertKind(t, storage.KindIsADirectory, err)
}

// ============================================================================
// Stat
// ============================================================================

func (suite *Suite) testStatZeroLength(t *testing.T) {
	op := suite.newOperator(t)
	mustWrite(t, op, "empty", nil)

	md := mustStat(t, op, "empty")
	assert.True(t, md.IsFile())
	assert.Equal(t, storage.FieldKnown, md.ContentLengthField().State())
	assert.Equal(t, int64(0), md.ContentLength())
}

func (suite *Suite) testStatNotFound(t *testing.T) {
	op := suite.newOperator(t)

	_, err := op.Stat(testContext(), "missing")
	AssertKind(t, storage.KindNotFound, err)
	assertExists(t, op, "missing", false)
}

func (suite *Suite) testStatIdempotent(t *testing.T) {
	op := suite.newOperator(t)
	mustWrite(t, op, "idempotent", []byte("content"))

	first := mustStat(t, op, "idempotent")
	second := mustStat(t, op, "idempotent")

	assert.Equal(t, first.Mode(), second.Mode())
	assert.Equal(t, first.ContentLength(), second.ContentLength())
	assert.Equal(t, first.ETag(), second.ETag())
	assert.Equal(t, first.LastModified(), second.LastModified())
	assertExists(t, op, "idempotent", true)
}

func (suite *Suite) testStatMetakeySubset(t *testing.T) {
	op := suite.newOperator(t)
	mustWrite(t, op, "subset", []byte("12345"))

	md, err := op.StatWithOptions(testContext(), "subset", storage.StatOptions{Metakey: storage.MetakeyContentLength})
	require.NoError(t, err)

	assert.Equal(t, int64(5), md.ContentLength())
	assert.Equal(t, storage.FieldNotRequested, md.ContentType().State())
	assert.Equal(t, storage.FieldNotRequested, md.ETag().State())
	assert.Equal(t, storage.FieldNotRequested, md.LastModified().State())
	assert.Equal(t, storage.FieldNotRequested, md.CacheControl().State())
	assert.Equal(t, storage.FieldNotRequested, md.ContentDisposition().State())
	assert.Equal(t, storage.FieldNotRequested, md.ContentMD5().State())
	assert.Equal(t, storage.FieldNotRequested, md.Version().State())
}

func (suite *Suite) testStatComplete(t *testing.T) {
	op := suite.newOperator(t)
	mustWrite(t, op, "complete", []byte("12345"))

	md := mustStat(t, op, "complete")
	assert.True(t, md.Contains(storage.MetakeyComplete))
	assert.NotEqual(t, storage.FieldNotRequested, md.ContentType().State())
	assert.NotEqual(t, storage.FieldNotRequested, md.ETag().State())
	assert.NotEqual(t, storage.FieldNotRequested, md.Version().State())
}

// ============================================================================
// Delete / CreateDir
// ============================================================================

func (suite *Suite) testDeleteSuccess(t *testing.T) {
	op := suite.newOperator(t)
	mustWrite(t, op, "delete", []byte("bye"))

	require.NoError(t, op.Delete(testContext(), "delete"))
	assertExists(t, op, "delete", false)
}

func (suite *Suite) testDeleteIdempotent(t *testing.T) {
	op := suite.newOperator(t)

	require.NoError(t, op.Delete(testContext(), "never-written"))
	require.NoError(t, op.Delete(testContext(), "never-written"))
}

func (suite *Suite) testCreateDir(t *testing.T) {
	op := suite.newOperator(t)
	if !capability(op).CreateDir {
		err := op.CreateDir(testContext(), "created/")
		AssertKind(t, storage.KindUnsupported, err)
		return
	}

	require.NoError(t, op.CreateDir(testContext(), "created/"))
	md := mustStat(t, op, "created/")
	assert.True(t, md.IsDir())

	err := op.CreateDir(testContext(), "not-a-dir")
	AssertKind(t, storage.KindNotADirectory, err)
}

// drainReader reads r fully and closes it.
func drainReader(t *testing.T, r io.ReadCloser) []byte {
	t.Helper()
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}
