package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/marmos91/dittostore/pkg/storage"
	storagetesting "github.com/marmos91/dittostore/pkg/storage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPresigner signs locally with static credentials; nothing is sent.
func testPresigner() *s3.PresignClient {
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
		BaseEndpoint: aws.String("http://localhost:4566"),
		UsePathStyle: true,
	})
	return s3.NewPresignClient(client)
}

func newTestAccessor(t *testing.T, fake *fakeS3, root string) *Accessor {
	t.Helper()
	acc, err := New(Options{
		Client:    fake,
		Presigner: testPresigner(),
		Bucket:    "test-bucket",
		Root:      root,
		PartSize:  MinPartSize,
	})
	require.NoError(t, err)
	return acc
}

// TestS3Accessor runs the conformance suite against an in-memory S3.
func TestS3Accessor(t *testing.T) {
	suite := &storagetesting.Suite{
		NewOperator: func(t *testing.T) *storage.Operator {
			return storage.NewOperator(newTestAccessor(t, newFakeS3(), ""))
		},
	}

	suite.Run(t)
}

func TestS3Accessor_Root(t *testing.T) {
	suite := &storagetesting.Suite{
		NewOperator: func(t *testing.T) *storage.Operator {
			return storage.NewOperator(newTestAccessor(t, newFakeS3(), "/prefix/data"))
		},
	}

	suite.Run(t)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Bucket: "b"})
	storagetesting.AssertKind(t, storage.KindConfigInvalid, err)

	_, err = New(Options{Client: newFakeS3()})
	storagetesting.AssertKind(t, storage.KindConfigInvalid, err)

	_, err = New(Options{Client: newFakeS3(), Bucket: "b", PartSize: 1024})
	storagetesting.AssertKind(t, storage.KindConfigInvalid, err)

	acc, err := New(Options{Client: newFakeS3(), Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultPartSize), acc.partSize)
	assert.False(t, acc.Info().Capability.Presign, "presign requires a presigner")
	assert.Equal(t, "b", acc.Info().Name)
}

func TestNewFromConfig_RequiresBucketAndRegion(t *testing.T) {
	_, err := NewFromConfig(context.Background(), Config{Region: "us-east-1"}, nil)
	storagetesting.AssertKind(t, storage.KindConfigInvalid, err)

	_, err = NewFromConfig(context.Background(), Config{Bucket: "b"}, nil)
	storagetesting.AssertKind(t, storage.KindConfigInvalid, err)
}

func TestRootPrefixesKeys(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	op := storage.NewOperator(newTestAccessor(t, fake, "/tenant"))

	require.NoError(t, op.Write(ctx, "dir/file", []byte("x")))

	fake.mu.Lock()
	_, ok := fake.objects["tenant/dir/file"]
	fake.mu.Unlock()
	assert.True(t, ok, "object key carries the root without a leading slash")

	entries, err := op.ListAll(ctx, "dir/", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "dir/file", entries[0].Path())
}

func TestWrite_SmallObjectUsesPutObject(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	op := storage.NewOperator(newTestAccessor(t, fake, ""))

	require.NoError(t, op.Write(ctx, "small", []byte("hello")))

	assert.Equal(t, 1, fake.Calls("PutObject"))
	assert.Equal(t, 0, fake.Calls("CreateMultipartUpload"))
}

func TestWrite_MultipartChunks(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	op := storage.NewOperator(newTestAccessor(t, fake, ""))

	data := bytes.Repeat([]byte("0123456789abcdef"), (11<<20)/16)
	w, err := op.Writer(ctx, "large", storage.WriteOptions{ChunkSize: MinPartSize})
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, 1, fake.Calls("CreateMultipartUpload"))
	assert.Equal(t, 3, fake.Calls("UploadPart"))
	assert.Equal(t, 1, fake.Calls("CompleteMultipartUpload"))
	assert.Equal(t, 0, fake.Calls("PutObject"))

	got, err := op.Read(ctx, "large")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWrite_ChunkBelowMinimumRejected(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	op := storage.NewOperator(newTestAccessor(t, fake, ""))

	_, err := op.Writer(ctx, "tiny-chunks", storage.WriteOptions{ChunkSize: 1024})
	storagetesting.AssertKind(t, storage.KindInvalidInput, err)
	assert.Equal(t, 0, fake.Calls("CreateMultipartUpload"))
}

func TestWrite_AbortReleasesUpload(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	acc := newTestAccessor(t, fake, "")

	w, err := acc.Write(ctx, "aborted", storage.WriteOptions{})
	require.NoError(t, err)
	_, err = w.Write(make([]byte, MinPartSize+1))
	require.NoError(t, err)
	require.Equal(t, 1, fake.pendingUploads())

	require.NoError(t, w.Abort())
	assert.Equal(t, 0, fake.pendingUploads())
	assert.Equal(t, 1, fake.Calls("AbortMultipartUpload"))

	_, err = acc.Stat(ctx, "aborted", storage.StatOptions{})
	storagetesting.AssertKind(t, storage.KindNotFound, err)
}

func TestRead_RangePastEndIsEmpty(t *testing.T) {
	ctx := context.Background()
	op := storage.NewOperator(newTestAccessor(t, newFakeS3(), ""))
	require.NoError(t, op.Write(ctx, "short", []byte("abc")))

	got, err := op.ReadWithOptions(ctx, "short", storage.ReadOptions{Range: storage.NewBytesRange(10, 5)})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStat_Conditions(t *testing.T) {
	ctx := context.Background()
	op := storage.NewOperator(newTestAccessor(t, newFakeS3(), ""))
	require.NoError(t, op.Write(ctx, "cond", []byte("data")))

	md, err := op.Stat(ctx, "cond")
	require.NoError(t, err)
	etag := md.ETag().Value()
	assert.NotEmpty(t, etag)

	_, err = op.StatWithOptions(ctx, "cond", storage.StatOptions{IfMatch: etag})
	assert.NoError(t, err)

	_, err = op.StatWithOptions(ctx, "cond", storage.StatOptions{IfMatch: `"other"`})
	assert.ErrorIs(t, err, storage.ErrConditionNotMatch)

	_, err = op.ReadWithOptions(ctx, "cond", storage.ReadOptions{IfNoneMatch: etag})
	assert.ErrorIs(t, err, storage.ErrConditionNotMatch)
}

func TestStat_DirectoryFromPrefix(t *testing.T) {
	ctx := context.Background()
	op := storage.NewOperator(newTestAccessor(t, newFakeS3(), ""))
	require.NoError(t, op.Write(ctx, "implicit/child", []byte("x")))

	md, err := op.Stat(ctx, "implicit/")
	require.NoError(t, err)
	assert.True(t, md.IsDir())

	_, err = op.Stat(ctx, "absent/")
	storagetesting.AssertKind(t, storage.KindNotFound, err)
}

func TestCopy_EscapesSource(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	op := storage.NewOperator(newTestAccessor(t, fake, ""))
	require.NoError(t, op.Write(ctx, "with space/ü+file", []byte("payload")))

	require.NoError(t, op.Copy(ctx, "with space/ü+file", "copied"))
	assert.Equal(t, 1, fake.Calls("CopyObject"))

	got, err := op.Read(ctx, "copied")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestRename_CopiesThenDeletes(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	var acc storage.Accessor = newTestAccessor(t, fake, "")
	op := storage.NewOperator(acc)
	require.NoError(t, op.Write(ctx, "old", []byte("payload")))

	require.NoError(t, op.Rename(ctx, "old", "new"))
	assert.Equal(t, 1, fake.Calls("CopyObject"))
	assert.Equal(t, 1, fake.Calls("DeleteObject"))

	got, err := op.Read(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	_, err = op.Stat(ctx, "old")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = acc.Rename(ctx, "new", "other")
	assert.ErrorIs(t, err, storage.ErrUnsupported)
}

func TestBatch_SplitsAboveLimit(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	op := storage.NewOperator(newTestAccessor(t, fake, ""))

	paths := make([]string, 0, 1500)
	for i := 0; i < 1500; i++ {
		p := fmt.Sprintf("bulk/%04d", i)
		require.NoError(t, op.Write(ctx, p, nil))
		paths = append(paths, p)
	}

	results, err := op.Batch(ctx, paths)
	require.NoError(t, err)
	require.Len(t, results, 1500)
	for _, r := range results {
		require.NoError(t, r.Err)
	}
	assert.Equal(t, 2, fake.Calls("DeleteObjects"))

	entries, err := op.ListAll(ctx, "bulk/", storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBatch_ItemErrors(t *testing.T) {
	ctx := context.Background()
	op := storage.NewOperator(newTestAccessor(t, newFakeS3(), ""))
	require.NoError(t, op.Write(ctx, "locked/a", []byte("x")))
	require.NoError(t, op.Write(ctx, "free/b", []byte("x")))

	results, err := op.Batch(ctx, []string{"locked/a", "free/b"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	storagetesting.AssertKind(t, storage.KindPermissionDenied, results[0].Err)
	assert.NoError(t, results[1].Err)
}

func TestPresign_Operations(t *testing.T) {
	ctx := context.Background()
	op := storage.NewOperator(newTestAccessor(t, newFakeS3(), "/root"))

	cases := []struct {
		operation storage.PresignOperation
		method    string
	}{
		{storage.PresignRead, http.MethodGet},
		{storage.PresignStat, http.MethodHead},
		{storage.PresignWrite, http.MethodPut},
	}
	for _, tc := range cases {
		t.Run(string(tc.operation), func(t *testing.T) {
			req, err := op.Presign(ctx, "obj", storage.PresignOptions{Operation: tc.operation, Expire: 15 * time.Minute})
			require.NoError(t, err)
			assert.Equal(t, tc.method, req.Method())
			assert.Contains(t, req.URI(), "/test-bucket/root/obj")
			assert.Contains(t, req.URI(), "X-Amz-Expires=900")
		})
	}
}

func TestPresign_WithoutPresigner(t *testing.T) {
	acc, err := New(Options{Client: newFakeS3(), Bucket: "b"})
	require.NoError(t, err)

	_, err = acc.Presign(context.Background(), "x", storage.PresignOptions{Operation: storage.PresignRead, Expire: time.Minute})
	storagetesting.AssertKind(t, storage.KindUnsupported, err)
}

type recordingMetrics struct {
	ops       []string
	bytes     map[string]int64
	multipart []string
}

func (m *recordingMetrics) ObserveOperation(operation string, _ time.Duration, _ error) {
	m.ops = append(m.ops, operation)
}

func (m *recordingMetrics) RecordBytes(operation string, n int64) {
	if m.bytes == nil {
		m.bytes = make(map[string]int64)
	}
	m.bytes[operation] += n
}

func (m *recordingMetrics) RecordMultipartUpload(status string) {
	m.multipart = append(m.multipart, status)
}

func TestMetrics_Recorded(t *testing.T) {
	ctx := context.Background()
	m := &recordingMetrics{}
	acc, err := New(Options{Client: newFakeS3(), Bucket: "b", PartSize: MinPartSize, Metrics: m})
	require.NoError(t, err)
	op := storage.NewOperator(acc)

	require.NoError(t, op.Write(ctx, "m", []byte("12345")))
	_, err = op.Read(ctx, "m")
	require.NoError(t, err)

	w, err := op.Writer(ctx, "mp", storage.WriteOptions{})
	require.NoError(t, err)
	_, err = w.Write(make([]byte, MinPartSize+10))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Contains(t, m.ops, "PutObject")
	assert.Contains(t, m.ops, "GetObject")
	assert.Contains(t, m.ops, "UploadPart")
	assert.Equal(t, int64(5), m.bytes["read"])
	assert.Equal(t, int64(5+MinPartSize+10), m.bytes["write"])
	assert.Equal(t, []string{"initiated", "completed"}, m.multipart)
}

func TestMapError(t *testing.T) {
	responseError := func(status int) error {
		return &awshttp.ResponseError{
			ResponseError: &smithyhttp.ResponseError{
				Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
				Err:      errors.New("http error"),
			},
		}
	}

	tests := []struct {
		name      string
		err       error
		kind      storage.ErrorKind
		temporary bool
	}{
		{"NoSuchKey", apiError("NoSuchKey"), storage.KindNotFound, false},
		{"NoSuchBucket", apiError("NoSuchBucket"), storage.KindNotFound, false},
		{"AccessDenied", apiError("AccessDenied"), storage.KindPermissionDenied, false},
		{"PreconditionFailed", apiError("PreconditionFailed"), storage.KindConditionNotMatch, false},
		{"SlowDown", apiError("SlowDown"), storage.KindRateLimited, true},
		{"InternalError", apiError("InternalError"), storage.KindUnexpected, true},
		{"EntityTooSmall", apiError("EntityTooSmall"), storage.KindInvalidInput, false},
		{"UnknownCode", apiError("Whatever"), storage.KindUnexpected, false},
		{"Status404", responseError(http.StatusNotFound), storage.KindNotFound, false},
		{"Status403", responseError(http.StatusForbidden), storage.KindPermissionDenied, false},
		{"Status412", responseError(http.StatusPreconditionFailed), storage.KindConditionNotMatch, false},
		{"Status429", responseError(http.StatusTooManyRequests), storage.KindRateLimited, true},
		{"Status503", responseError(http.StatusServiceUnavailable), storage.KindUnexpected, true},
		{"Plain", errors.New("boom"), storage.KindUnexpected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := mapError(tt.err)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.temporary, e.Temporary)
			assert.ErrorIs(t, e, tt.err)
		})
	}
}

func TestMapError_PassesThroughStorageErrors(t *testing.T) {
	orig := storage.NewError(storage.KindIsSameFile, "same")
	assert.Same(t, orig, mapError(fmt.Errorf("wrapped: %w", orig)))
}

func TestBatchItemCodes(t *testing.T) {
	assert.Equal(t, storage.KindPermissionDenied, codeKind("AccessDenied"))
	assert.Equal(t, storage.KindRateLimited, codeKind("SlowDown"))
	assert.Equal(t, storage.KindUnexpected, codeKind("InternalError"))
}
