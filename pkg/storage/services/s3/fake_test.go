package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// fakeS3 is an in-memory API implementation with S3's error codes and
// listing semantics, enough to run the conformance suite offline.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
	uploads map[string]map[int32][]byte
	nextID  int
	calls   map[string]int
}

type fakeObject struct {
	data        []byte
	etag        string
	contentType *string
	modified    time.Time
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string]*fakeObject),
		uploads: make(map[string]map[int32][]byte),
		calls:   make(map[string]int),
	}
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func (f *fakeS3) count(op string) {
	f.calls[op]++
}

func (f *fakeS3) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeS3) put(key string, data []byte, contentType *string) {
	sum := md5.Sum(data)
	f.objects[key] = &fakeObject{
		data:        append([]byte(nil), data...),
		etag:        `"` + hex.EncodeToString(sum[:]) + `"`,
		contentType: contentType,
		modified:    time.Now().UTC().Truncate(time.Second),
	}
}

func checkConditions(obj *fakeObject, ifMatch, ifNoneMatch *string) error {
	if ifMatch != nil && *ifMatch != obj.etag {
		return apiError("PreconditionFailed")
	}
	if ifNoneMatch != nil && *ifNoneMatch == obj.etag {
		return apiError("NotModified")
	}
	return nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("HeadObject")

	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, apiError("NotFound")
	}
	if err := checkConditions(obj, in.IfMatch, in.IfNoneMatch); err != nil {
		return nil, err
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ETag:          aws.String(obj.etag),
		LastModified:  aws.Time(obj.modified),
		ContentType:   obj.contentType,
	}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetObject")

	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, apiError("NoSuchKey")
	}
	if err := checkConditions(obj, in.IfMatch, in.IfNoneMatch); err != nil {
		return nil, err
	}

	data := obj.data
	if in.Range != nil {
		spec := strings.TrimPrefix(aws.ToString(in.Range), "bytes=")
		from, to, _ := strings.Cut(spec, "-")
		start, _ := strconv.ParseInt(from, 10, 64)
		if start >= int64(len(data)) {
			return nil, apiError("InvalidRange")
		}
		end := int64(len(data)) - 1
		if to != "" {
			end, _ = strconv.ParseInt(to, 10, 64)
			end = min(end, int64(len(data))-1)
		}
		data = data[start : end+1]
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(append([]byte(nil), data...))),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("PutObject")
	f.put(aws.ToString(in.Key), data, in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DeleteObject")
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DeleteObjects")

	if len(in.Delete.Objects) > MaxDeleteObjects {
		return nil, apiError("MalformedXML")
	}
	out := &s3.DeleteObjectsOutput{}
	for _, o := range in.Delete.Objects {
		key := aws.ToString(o.Key)
		if strings.HasPrefix(key, "locked/") {
			out.Errors = append(out.Errors, types.Error{Key: o.Key, Code: aws.String("AccessDenied"), Message: aws.String("Access Denied")})
			continue
		}
		delete(f.objects, key)
	}
	return out, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CopyObject")

	_, escaped, _ := strings.Cut(aws.ToString(in.CopySource), "/")
	srcKey, err := url.PathUnescape(escaped)
	if err != nil {
		return nil, apiError("InvalidArgument")
	}
	src, ok := f.objects[srcKey]
	if !ok {
		return nil, apiError("NoSuchKey")
	}
	f.put(aws.ToString(in.Key), src.data, src.contentType)
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ListObjectsV2")

	prefix := aws.ToString(in.Prefix)
	delimiter := aws.ToString(in.Delimiter)
	after := aws.ToString(in.StartAfter)
	if in.ContinuationToken != nil {
		after = aws.ToString(in.ContinuationToken)
	}
	maxKeys := int(aws.ToInt32(in.MaxKeys))
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	seenPrefixes := make(map[string]bool)
	n := 0
	last := ""
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) || k <= after {
			continue
		}
		if n == maxKeys {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(last)
			break
		}

		rest := strings.TrimPrefix(k, prefix)
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seenPrefixes[cp] {
					seenPrefixes[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
					n++
				}
				// Continue past every key below the emitted prefix.
				last = cp + "\xff"
				continue
			}
		}

		obj := f.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.data))),
			ETag:         aws.String(obj.etag),
			LastModified: aws.Time(obj.modified),
		})
		n++
		last = k
	}
	out.KeyCount = aws.Int32(int32(n))
	if out.IsTruncated == nil {
		out.IsTruncated = aws.Bool(false)
	}
	return out, nil
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CreateMultipartUpload")

	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = make(map[int32][]byte)
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id), Key: in.Key}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("UploadPart")

	parts, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, apiError("NoSuchUpload")
	}
	parts[aws.ToInt32(in.PartNumber)] = data
	sum := md5.Sum(data)
	return &s3.UploadPartOutput{ETag: aws.String(hex.EncodeToString(sum[:]))}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CompleteMultipartUpload")

	id := aws.ToString(in.UploadId)
	parts, ok := f.uploads[id]
	if !ok {
		return nil, apiError("NoSuchUpload")
	}

	var buf bytes.Buffer
	completed := in.MultipartUpload.Parts
	for i, p := range completed {
		data, ok := parts[aws.ToInt32(p.PartNumber)]
		if !ok {
			return nil, apiError("InvalidPart")
		}
		if i < len(completed)-1 && len(data) < MinPartSize {
			return nil, apiError("EntityTooSmall")
		}
		buf.Write(data)
	}
	delete(f.uploads, id)
	f.put(aws.ToString(in.Key), buf.Bytes(), nil)
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("AbortMultipartUpload")

	id := aws.ToString(in.UploadId)
	if _, ok := f.uploads[id]; !ok {
		return nil, apiError("NoSuchUpload")
	}
	delete(f.uploads, id)
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) pendingUploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}
