package testing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertKind checks that err carries the expected ErrorKind.
func AssertKind(t *testing.T, expected storage.ErrorKind, err error) {
	t.Helper()
	require.Error(t, err)
	if !errors.Is(err, expected) {
		t.Errorf("Expected error kind %s, got %v", expected, err)
	}
}

// mustWrite writes data and fails the test if it errors.
func mustWrite(t *testing.T, op *storage.Operator, path string, data []byte) {
	t.Helper()
	err := op.Write(testContext(), path, data)
	require.NoError(t, err, "Write should succeed")
}

// mustRead reads path and fails the test if it errors.
func mustRead(t *testing.T, op *storage.Operator, path string) []byte {
	t.Helper()
	data, err := op.Read(testContext(), path)
	require.NoError(t, err, "Read should succeed")
	return data
}

// mustStat stats path and fails the test if it errors.
func mustStat(t *testing.T, op *storage.Operator, path string) storage.Metadata {
	t.Helper()
	md, err := op.Stat(testContext(), path)
	require.NoError(t, err, "Stat should succeed")
	return md
}

// assertExists checks whether path exists.
func assertExists(t *testing.T, op *storage.Operator, path string, expected bool) {
	t.Helper()
	exists, err := op.IsExist(testContext(), path)
	require.NoError(t, err, "IsExist should not error")
	assert.Equal(t, expected, exists, "existence mismatch for %s", path)
}

// assertContentEquals checks the content of path.
func assertContentEquals(t *testing.T, op *storage.Operator, path string, expected []byte) {
	t.Helper()
	data := mustRead(t, op, path)
	assert.Equal(t, expected, data, "content mismatch for %s", path)
}

// generateData returns size bytes of a repeating pattern.
func generateData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// entryPaths extracts the paths of entries.
func entryPaths(entries []storage.Entry) []string {
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path()
	}
	return paths
}

func testPath(prefix string, i int) string {
	return fmt.Sprintf("%s/file-%04d", prefix, i)
}

func capability(op *storage.Operator) storage.Capability {
	return op.Info().FullCapability
}
