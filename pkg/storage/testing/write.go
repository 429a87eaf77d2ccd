package testing

import (
	"io"
	"testing"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunWriteTests executes streaming and optional-variant write tests.
func (suite *Suite) RunWriteTests(t *testing.T) {
	t.Run("Writer_Stream", suite.testWriterStream)
	t.Run("Writer_Abort", suite.testWriterAbort)
	t.Run("Writer_Seekable_Reader", suite.testSeekableReader)
	t.Run("Write_ContentType", suite.testWriteContentType)
	t.Run("Write_Append", suite.testWriteAppend)
	t.Run("Write_Directory", suite.testWriteDirectory)
}

func (suite *Suite) testWriterStream(t *testing.T) {
	op := suite.newOperator(t)

	w, err := op.Writer(testContext(), "stream", storage.WriteOptions{})
	require.NoError(t, err)

	parts := [][]byte{[]byte("first "), []byte("second "), []byte("third")}
	for _, p := range parts {
		n, err := w.Write(p)
		require.NoError(t, err)
		assert.Equal(t, len(p), n)
	}
	require.NoError(t, w.Close())

	assertContentEquals(t, op, "stream", []byte("first second third"))
}

func (suite *Suite) testWriterAbort(t *testing.T) {
	op := suite.newOperator(t)

	w, err := op.Writer(testContext(), "aborted", storage.WriteOptions{})
	require.NoError(t, err)
	_, err = w.Write([]byte("discarded"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	assertExists(t, op, "aborted", false)
}

func (suite *Suite) testSeekableReader(t *testing.T) {
	op := suite.newOperator(t)
	data := generateData(64)
	mustWrite(t, op, "seek", data)

	r, err := op.Reader(testContext(), "seek", storage.ReadOptions{})
	require.NoError(t, err)
	defer r.Close()

	if !capability(op).ReadCanSeek {
		assert.False(t, r.Seekable())
		_, err := r.Seek(0, io.SeekStart)
		AssertKind(t, storage.KindUnsupported, err)
		return
	}

	require.True(t, r.Seekable())
	pos, err := r.Seek(32, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(32), pos)
	assert.Equal(t, data[32:], drainReader(t, r))
}

func (suite *Suite) testWriteContentType(t *testing.T) {
	op := suite.newOperator(t)
	opts := storage.WriteOptions{ContentType: "text/plain"}

	if !capability(op).WriteWithContentType {
		err := op.WriteWithOptions(testContext(), "typed", []byte("x"), opts)
		AssertKind(t, storage.KindUnsupported, err)
		assertExists(t, op, "typed", false)
		return
	}

	require.NoError(t, op.WriteWithOptions(testContext(), "typed", []byte("x"), opts))
	md := mustStat(t, op, "typed")
	ct, ok := md.ContentType().Get()
	require.True(t, ok)
	assert.Equal(t, "text/plain", ct)
}

func (suite *Suite) testWriteAppend(t *testing.T) {
	op := suite.newOperator(t)
	opts := storage.WriteOptions{Append: true}

	if !capability(op).WriteCanAppend {
		err := op.WriteWithOptions(testContext(), "append", []byte("x"), opts)
		AssertKind(t, storage.KindUnsupported, err)
		return
	}

	require.NoError(t, op.WriteWithOptions(testContext(), "append", []byte("ab"), opts))
	require.NoError(t, op.WriteWithOptions(testContext(), "append", []byte("cd"), opts))
	assertContentEquals(t, op, "append", []byte("abcd"))
}

func (suite *Suite) testWriteDirectory(t *testing.T) {
	op := suite.newOperator(t)

	err := op.Write(testContext(), "dir/", []byte("x"))
	AssertKind(t, storage.KindIsADirectory, err)
}
