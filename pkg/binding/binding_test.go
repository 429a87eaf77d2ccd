package binding

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostErrorFor_Total(t *testing.T) {
	for _, table := range []ErrorTable{PythonErrors, JavaErrors} {
		for _, kind := range storage.AllKinds() {
			h := HostErrorFor(kind, table)
			assert.NotEmpty(t, h.Class, "kind %s", kind)
			assert.Equal(t, kind.String(), h.Code)
		}

		unknown := HostErrorFor(storage.ErrorKind(99), table)
		assert.Equal(t, table.Default.Class, unknown.Class)
		assert.Equal(t, "ErrorKind(99)", unknown.Code)
	}
}

func TestPythonErrors(t *testing.T) {
	tests := []struct {
		kind storage.ErrorKind
		want string
	}{
		{storage.KindNotFound, "FileNotFoundError"},
		{storage.KindAlreadyExists, "FileExistsError"},
		{storage.KindPermissionDenied, "PermissionError"},
		{storage.KindUnsupported, "NotImplementedError"},
		{storage.KindRateLimited, "dittostore.Error"},
		{storage.KindConditionNotMatch, "dittostore.Error"},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, HostErrorFor(tt.kind, PythonErrors).Class)
		})
	}
}

func TestHostErrorOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", storage.NewError(storage.KindNotFound, "missing").WithPath("a"))
	assert.Equal(t, "FileNotFoundError", HostErrorOf(err, PythonErrors).Class)

	plain := HostErrorOf(fmt.Errorf("boom"), JavaErrors)
	assert.Equal(t, JavaErrors.Default.Class, plain.Class)
	assert.Equal(t, "Unexpected", plain.Code)
}

func TestCapabilitySignature(t *testing.T) {
	assert.Equal(t, "(ZZZZZZZZZZZZZZZZZZJJJZZZZZZZZZZZZZZZJZ)V", CapabilitySignature())
}

func TestCapability_RoundTrip(t *testing.T) {
	in := storage.Capability{
		Stat:               true,
		Read:               true,
		ReadWithRange:      true,
		Write:              true,
		WriteCanMulti:      true,
		WriteMultiMinSize:  5 << 20,
		WriteMultiMaxSize:  5 << 30,
		List:               true,
		Batch:              true,
		BatchMaxOperations: 1000,
		Blocking:           true,
	}

	data, err := EncodeCapability(in)
	require.NoError(t, err)
	// 34 bools and 4 hypers.
	assert.Len(t, data, 34*4+4*8)

	out, err := DecodeCapability(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCapability_PositionalLayout(t *testing.T) {
	data, err := EncodeCapability(storage.Capability{Stat: true, WriteMultiMaxSize: 7})
	require.NoError(t, err)

	// First field is Stat, encoded as a big-endian 1.
	assert.Equal(t, []byte{0, 0, 0, 1}, data[:4])
	// WriteMultiMaxSize follows the 18 leading bools.
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 7}, data[18*4:18*4+8])
}

func TestDecodeCapability_Truncated(t *testing.T) {
	data, err := EncodeCapability(storage.Capability{Read: true})
	require.NoError(t, err)

	_, err = DecodeCapability(data[:10])
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestMetadataRecord(t *testing.T) {
	modified := time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)
	md := storage.NewMetadata(storage.ModeFile).
		WithContentLength(42).
		WithContentType("text/plain").
		WithETag(`"abc"`).
		WithLastModified(modified).
		WithRequested(storage.MetakeyContentLength | storage.MetakeyContentType |
			storage.MetakeyETag | storage.MetakeyLastModified | storage.MetakeyVersion)

	rec := NewMetadataRecord(md)
	assert.Equal(t, ModeFile, rec.Mode)
	assert.Equal(t, int64(42), rec.ContentLength)
	assert.Equal(t, OptionalString{Set: true, Value: "text/plain"}, rec.ContentType)
	assert.Equal(t, OptionalString{Set: true, Value: `"abc"`}, rec.ETag)
	assert.False(t, rec.Version.Set, "absent fields are null")
	assert.False(t, rec.CacheControl.Set, "unrequested fields are null")

	got, ok := rec.LastModified.Time()
	require.True(t, ok)
	assert.True(t, modified.Equal(got))

	data, err := Encode(&rec)
	require.NoError(t, err)
	var decoded MetadataRecord
	require.NoError(t, Decode(data, &decoded))
	assert.Equal(t, rec, decoded)
}

func TestMetadataRecord_UnknownLength(t *testing.T) {
	rec := NewMetadataRecord(storage.NewMetadata(storage.ModeDir))
	assert.Equal(t, ModeDir, rec.Mode)
	assert.Equal(t, int64(-1), rec.ContentLength)

	dir := storage.NewMetadata(storage.ModeDir).WithRequested(storage.MetakeyContentLength)
	assert.Equal(t, int64(0), NewMetadataRecord(dir).ContentLength)

	_, ok := rec.LastModified.Time()
	assert.False(t, ok)

	assert.Equal(t, ModeUnknown, NewMetadataRecord(storage.NewMetadata(storage.ModeUnknown)).Mode)
}

func TestEntryRecord(t *testing.T) {
	e := storage.NewEntry("dir/", storage.NewMetadata(storage.ModeDir))
	rec := NewEntryRecord(e)
	assert.Equal(t, "dir/", rec.Path)
	assert.Equal(t, ModeDir, rec.Metadata.Mode)
}

func TestPresignedRequestRecord(t *testing.T) {
	header := http.Header{}
	header.Set("x-amz-date", "20240101T000000Z")
	header.Set("Host", "example.com")
	req := storage.NewPresignedRequest("get", "https://example.com/obj", header)

	rec := NewPresignedRequestRecord(req)
	assert.Equal(t, "GET", rec.Method)
	assert.Equal(t, "https://example.com/obj", rec.URI)
	assert.Equal(t, []HeaderRecord{
		{Name: "Host", Value: "example.com"},
		{Name: "X-Amz-Date", Value: "20240101T000000Z"},
	}, rec.Headers)

	data, err := Encode(&rec)
	require.NoError(t, err)
	var decoded PresignedRequestRecord
	require.NoError(t, Decode(data, &decoded))
	assert.Equal(t, rec, decoded)
}

func TestOperatorInfoRecord(t *testing.T) {
	info := storage.OperatorInfo{
		Scheme:           "memory",
		Root:             "/",
		Name:             "test",
		FullCapability:   storage.Capability{Read: true, Copy: true},
		NativeCapability: storage.Capability{Read: true},
	}
	rec := NewOperatorInfoRecord(info)

	data, err := Encode(&rec)
	require.NoError(t, err)
	var decoded OperatorInfoRecord
	require.NoError(t, Decode(data, &decoded))
	assert.Equal(t, rec, decoded)
	assert.True(t, decoded.FullCapability.Copy)
	assert.False(t, decoded.NativeCapability.Copy)
}
