package testing

import (
	"io"
	"strings"
	"testing"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunListTests executes listing tests.
func (suite *Suite) RunListTests(t *testing.T) {
	t.Run("List_DirectChildren", suite.testListDirectChildren)
	t.Run("List_Recursive", suite.testListRecursive)
	t.Run("List_Pagination", suite.testListPagination)
	t.Run("List_StartAfter", suite.testListStartAfter)
	t.Run("List_Metakey", suite.testListMetakey)
	t.Run("List_NotADirectory", suite.testListNotADirectory)
	t.Run("List_CloseEarly", suite.testListCloseEarly)
	t.Run("RemoveAll", suite.testRemoveAll)
}

func (suite *Suite) testListDirectChildren(t *testing.T) {
	op := suite.newOperator(t)
	mustWrite(t, op, "list/a", []byte("a"))
	mustWrite(t, op, "list/b", []byte("b"))
	mustWrite(t, op, "list/sub/c", []byte("c"))

	entries, err := op.ListAll(testContext(), "list/", storage.ListOptions{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"list/a", "list/b", "list/sub/"}, entryPaths(entries))
	for _, e := range entries {
		assert.Equal(t, strings.HasSuffix(e.Path(), "/"), e.Metadata().IsDir(), "mode mismatch for %s", e.Path())
	}
}

func (suite *Suite) testListRecursive(t *testing.T) {
	op := suite.newOperator(t)
	mustWrite(t, op, "tree/a", []byte("a"))
	mustWrite(t, op, "tree/x/b", []byte("b"))
	mustWrite(t, op, "tree/x/y/c", []byte("c"))

	entries, err := op.Scan(testContext(), "tree/")
	require.NoError(t, err)

	var files []string
	for _, e := range entries {
		assert.True(t, strings.HasPrefix(e.Path(), "tree/"), "unexpected entry %s", e.Path())
		assert.NotEqual(t, "tree/", e.Path())
		if e.Metadata().IsFile() {
			files = append(files, e.Path())
		}
	}
	assert.ElementsMatch(t, []string{"tree/a", "tree/x/b", "tree/x/y/c"}, files)
}

func (suite *Suite) testListPagination(t *testing.T) {
	op := suite.newOperator(t)
	const total = 250

	expected := make([]string, 0, total)
	for i := 0; i < total; i++ {
		p := testPath("page", i)
		mustWrite(t, op, p, nil)
		expected = append(expected, p)
	}

	entries, err := op.ListAll(testContext(), "page/", storage.ListOptions{Limit: 100})
	require.NoError(t, err)

	paths := entryPaths(entries)
	assert.Len(t, paths, total)
	assert.ElementsMatch(t, expected, paths)
}

func (suite *Suite) testListStartAfter(t *testing.T) {
	op := suite.newOperator(t)
	for _, name := range []string{"sa/a", "sa/b", "sa/c"} {
		mustWrite(t, op, name, []byte(name))
	}
	opts := storage.ListOptions{StartAfter: "sa/a"}

	if !capability(op).ListWithStartAfter {
		_, err := op.List(testContext(), "sa/", opts)
		AssertKind(t, storage.KindUnsupported, err)
		return
	}

	entries, err := op.ListAll(testContext(), "sa/", opts)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sa/b", "sa/c"}, entryPaths(entries))
}

func (suite *Suite) testListMetakey(t *testing.T) {
	op := suite.newOperator(t)
	mustWrite(t, op, "mk/file", []byte("12345"))

	entries, err := op.ListAll(testContext(), "mk/", storage.ListOptions{Metakey: storage.MetakeyContentLength})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	md := entries[0].Metadata()
	assert.Equal(t, int64(5), md.ContentLength())
	assert.Equal(t, storage.FieldNotRequested, md.ETag().State())
}

func (suite *Suite) testListNotADirectory(t *testing.T) {
	op := suite.newOperator(t)

	_, err := op.List(testContext(), "list/a", storage.ListOptions{})
	AssertKind(t, storage.KindNotADirectory, err)
}

func (suite *Suite) testListCloseEarly(t *testing.T) {
	op := suite.newOperator(t)
	for i := 0; i < 5; i++ {
		mustWrite(t, op, testPath("early", i), nil)
	}

	l, err := op.List(testContext(), "early/", storage.ListOptions{Limit: 2})
	require.NoError(t, err)

	_, err = l.Next(testContext())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, err = l.Next(testContext())
	assert.ErrorIs(t, err, io.EOF)
}

func (suite *Suite) testRemoveAll(t *testing.T) {
	op := suite.newOperator(t)
	mustWrite(t, op, "rm/a", []byte("a"))
	mustWrite(t, op, "rm/sub/b", []byte("b"))
	mustWrite(t, op, "keep", []byte("k"))

	require.NoError(t, op.RemoveAll(testContext(), "rm/"))

	assertExists(t, op, "rm/a", false)
	assertExists(t, op, "rm/sub/b", false)
	assertExists(t, op, "keep", true)
}
