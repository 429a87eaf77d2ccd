package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"//", "/"},
		{"a", "a"},
		{"/a/b", "a/b"},
		{"a//b/./c", "a/b/c"},
		{"a/b/", "a/b/"},
		{"./a/", "a/"},
		{"  /x  ", "x"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePath(tt.in), "NormalizePath(%q)", tt.in)
	}
}

func TestValidatePath(t *testing.T) {
	for _, bad := range []string{"", " ", "../a", "a/../b", "a\x00b"} {
		_, err := ValidatePath(OperationStat, bad)
		assert.ErrorIs(t, err, ErrInvalidInput, "ValidatePath(%q)", bad)
	}

	p, err := ValidatePath(OperationStat, "/a//b")
	assert.NoError(t, err)
	assert.Equal(t, "a/b", p)
}

func TestRootMapping(t *testing.T) {
	assert.Equal(t, "/", NormalizeRoot(""))
	assert.Equal(t, "/data/", NormalizeRoot("data"))
	assert.Equal(t, "/data/x/", NormalizeRoot("/data//x/"))

	assert.Equal(t, "data/a/b", AbsPath("/data", "a/b"))
	assert.Equal(t, "data/", AbsPath("/data/", "/"))
	assert.Equal(t, "a/b", AbsPath("/", "a/b"))

	assert.Equal(t, "a/b", RelPath("/data", "data/a/b"))
	assert.Equal(t, "/", RelPath("/data", "data/"))
}

func TestBaseNameAndParent(t *testing.T) {
	assert.Equal(t, "c", BaseName("a/b/c"))
	assert.Equal(t, "b/", BaseName("a/b/"))
	assert.Equal(t, "/", BaseName("/"))
	assert.Equal(t, "a/b/", ParentDir("a/b/c"))
	assert.Equal(t, "a/", ParentDir("a/b/"))
	assert.Equal(t, "/", ParentDir("a"))
}
