package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetakey_Contains(t *testing.T) {
	assert.True(t, MetakeyComplete.Contains(MetakeyETag|MetakeyVersion))
	assert.True(t, (MetakeyETag | MetakeyContentLength).Contains(MetakeyETag))
	assert.False(t, MetakeyETag.Contains(MetakeyContentLength))
	assert.False(t, MetakeyETag.Contains(MetakeyComplete))
	assert.True(t, MetakeyETag.Contains(MetakeyMode), "mode is always part of a mask")
}

func TestMetadata_ContentLengthStates(t *testing.T) {
	md := NewMetadata(ModeFile)
	assert.Equal(t, int64(-1), md.ContentLength())
	assert.Equal(t, FieldNotRequested, md.ContentLengthField().State())

	absent := md.WithRequested(MetakeyContentLength)
	assert.Equal(t, FieldAbsent, absent.ContentLengthField().State())
	assert.Equal(t, int64(0), absent.ContentLength(), "-1 is reserved for a length that was not requested")

	zero := md.WithContentLength(0)
	assert.Equal(t, int64(0), zero.ContentLength())
	assert.Equal(t, FieldKnown, zero.ContentLengthField().State())
}

func TestMetadata_Project(t *testing.T) {
	md := NewMetadata(ModeFile).
		WithContentLength(10).
		WithETag(`"e"`).
		WithContentType("text/plain").
		WithRequested(MetakeyComplete)

	p := md.Project(MetakeyContentLength)
	assert.Equal(t, int64(10), p.ContentLength())
	assert.Equal(t, ModeFile, p.Mode())
	assert.Equal(t, FieldNotRequested, p.ETag().State())
	assert.Equal(t, FieldNotRequested, p.ContentType().State())
	assert.Equal(t, FieldNotRequested, p.Version().State())
	assert.True(t, p.Contains(MetakeyContentLength))
	assert.False(t, p.Contains(MetakeyETag))

	// The original is unchanged.
	assert.Equal(t, FieldKnown, md.ETag().State())
	assert.Equal(t, FieldAbsent, md.Version().State())
}

func TestMetadataFromHeaders(t *testing.T) {
	modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	headers := map[string]string{
		"content-length": "42",
		"ETAG":           `"abc"`,
		"Content-Type":   "application/json",
		"last-modified":  modified.Format("Mon, 02 Jan 2006 15:04:05 GMT"),
	}

	md, err := MetadataFromHeaders(ModeFile, headers, MetakeyContentLength|MetakeyETag|MetakeyLastModified|MetakeyCacheControl)
	require.NoError(t, err)

	assert.Equal(t, int64(42), md.ContentLength())
	assert.Equal(t, `"abc"`, md.ETag().Value())
	assert.True(t, md.LastModified().Value().Equal(modified))
	assert.Equal(t, FieldAbsent, md.CacheControl().State())
	assert.Equal(t, FieldNotRequested, md.ContentType().State(), "not requested even though present")

	back := md.Headers()
	assert.Equal(t, "42", back[HeaderContentLength])
	assert.Equal(t, `"abc"`, back[HeaderETag])

	_, err = MetadataFromHeaders(ModeFile, map[string]string{"Content-Length": "-3"}, MetakeyComplete)
	assert.ErrorIs(t, err, ErrUnexpected)
}

func TestEntry(t *testing.T) {
	e := NewEntry("a/b/", NewMetadata(ModeDir))
	assert.Equal(t, "a/b/", e.Path())
	assert.Equal(t, "b/", e.Name())
	assert.True(t, e.Metadata().IsDir())
}
