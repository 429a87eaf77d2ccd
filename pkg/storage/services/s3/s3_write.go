package s3

import (
	"bytes"
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/storage"
)

// ============================================================================
// Write
// ============================================================================

// Write implements storage.Accessor.
//
// Data is buffered up to one part. Small objects are stored with a single
// PutObject on Close; larger ones switch to a multipart upload, one part
// per full buffer. With opts.ChunkSize set, every chunk is one part.
func (a *Accessor) Write(ctx context.Context, path string, opts storage.WriteOptions) (storage.Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	partSize := a.partSize
	if opts.ChunkSize > 0 {
		partSize = opts.ChunkSize
	}
	return &objectWriter{
		ctx:      ctx,
		a:        a,
		key:      a.key(path),
		opts:     opts,
		partSize: int(partSize),
	}, nil
}

// objectWriter implements storage.Writer for one object.
type objectWriter struct {
	ctx      context.Context
	a        *Accessor
	key      string
	opts     storage.WriteOptions
	partSize int

	buf      []byte
	uploadID string
	parts    []types.CompletedPart
	written  int64
	done     bool
}

func (w *objectWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, storage.NewError(storage.KindUnexpected, "writer is closed")
	}
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}

	written := 0
	for len(p) > 0 {
		n := min(w.partSize-len(w.buf), len(p))
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		written += n

		if len(w.buf) == w.partSize {
			if err := w.uploadPart(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (w *objectWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	if w.uploadID == "" {
		return w.put()
	}
	if len(w.buf) > 0 {
		if err := w.uploadPart(); err != nil {
			_ = w.abort()
			return err
		}
	}
	return w.complete()
}

func (w *objectWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.buf = nil
	if w.uploadID != "" {
		return w.abort()
	}
	return nil
}

// put stores the buffered data with a single request.
func (w *objectWriter) put() error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(w.a.bucket),
		Key:    aws.String(w.key),
		Body:   bytes.NewReader(w.buf),
	}
	if w.opts.ContentType != "" {
		in.ContentType = aws.String(w.opts.ContentType)
	}
	if w.opts.ContentDisposition != "" {
		in.ContentDisposition = aws.String(w.opts.ContentDisposition)
	}
	if w.opts.CacheControl != "" {
		in.CacheControl = aws.String(w.opts.CacheControl)
	}

	start := time.Now()
	_, err := w.a.client.PutObject(w.ctx, in)
	w.a.observe("PutObject", start, err)
	if err != nil {
		return mapError(err)
	}
	w.a.metrics.RecordBytes("write", int64(len(w.buf)))
	w.buf = nil
	return nil
}

func (w *objectWriter) uploadPart() error {
	if w.uploadID == "" {
		if err := w.begin(); err != nil {
			return err
		}
	}

	partNumber := int32(len(w.parts) + 1)
	start := time.Now()
	out, err := w.a.client.UploadPart(w.ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.a.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(w.buf),
	})
	w.a.observe("UploadPart", start, err)
	if err != nil {
		return mapError(err).WithContext("part", strconv.Itoa(int(partNumber)))
	}

	w.parts = append(w.parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNumber)})
	w.written += int64(len(w.buf))
	w.buf = w.buf[:0]
	return nil
}

func (w *objectWriter) begin() error {
	in := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(w.a.bucket),
		Key:    aws.String(w.key),
	}
	if w.opts.ContentType != "" {
		in.ContentType = aws.String(w.opts.ContentType)
	}
	if w.opts.ContentDisposition != "" {
		in.ContentDisposition = aws.String(w.opts.ContentDisposition)
	}
	if w.opts.CacheControl != "" {
		in.CacheControl = aws.String(w.opts.CacheControl)
	}

	start := time.Now()
	out, err := w.a.client.CreateMultipartUpload(w.ctx, in)
	w.a.observe("CreateMultipartUpload", start, err)
	if err != nil {
		return mapError(err)
	}
	w.uploadID = aws.ToString(out.UploadId)
	w.a.metrics.RecordMultipartUpload("initiated")
	return nil
}

func (w *objectWriter) complete() error {
	start := time.Now()
	_, err := w.a.client.CompleteMultipartUpload(w.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.a.bucket),
		Key:             aws.String(w.key),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: w.parts},
	})
	w.a.observe("CompleteMultipartUpload", start, err)
	if err != nil {
		_ = w.abort()
		return mapError(err)
	}
	w.a.metrics.RecordMultipartUpload("completed")
	w.a.metrics.RecordBytes("write", w.written)
	return nil
}

// abort cancels the multipart upload. It uses a fresh context so that a
// cancelled write still releases the uploaded parts.
func (w *objectWriter) abort() error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), 30*time.Second)
	defer cancel()

	start := time.Now()
	_, err := w.a.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.a.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
	w.a.observe("AbortMultipartUpload", start, err)
	if err != nil && !isNotFound(err) {
		logger.Warn("S3 multipart abort failed: key=%s upload=%s: %v", w.key, w.uploadID, err)
		return mapError(err)
	}
	w.a.metrics.RecordMultipartUpload("aborted")
	return nil
}

// ============================================================================
// CreateDir / Delete / Copy
// ============================================================================

// CreateDir implements storage.Accessor by writing an empty "dir/" marker.
func (a *Accessor) CreateDir(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(path)),
		Body:   bytes.NewReader(nil),
	})
	a.observe("PutObject", start, err)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// Delete implements storage.Accessor. S3 reports success for missing keys.
func (a *Accessor) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(path)),
	})
	a.observe("DeleteObject", start, err)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// Copy implements storage.Accessor with a server-side CopyObject. Objects
// above 5GiB need a multipart copy, which is not supported.
func (a *Accessor) Copy(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	_, err := a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(a.bucket),
		Key:        aws.String(a.key(to)),
		CopySource: aws.String(a.bucket + "/" + url.PathEscape(a.key(from))),
	})
	a.observe("CopyObject", start, err)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// ============================================================================
// Batch
// ============================================================================

// Batch implements storage.Accessor with DeleteObjects. The Operator
// splits requests above MaxDeleteObjects keys.
func (a *Accessor) Batch(ctx context.Context, req storage.BatchRequest) ([]storage.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Paths) > MaxDeleteObjects {
		return nil, storage.NewError(storage.KindInvalidInput,
			"batch of %d keys exceeds the limit of %d", len(req.Paths), MaxDeleteObjects)
	}
	if len(req.Paths) == 0 {
		return nil, nil
	}

	objects := make([]types.ObjectIdentifier, 0, len(req.Paths))
	byKey := make(map[string]int, len(req.Paths))
	for i, p := range req.Paths {
		key := a.key(p)
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
		byKey[key] = i
	}

	start := time.Now()
	out, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(a.bucket),
		Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	a.observe("DeleteObjects", start, err)
	if err != nil {
		return nil, mapError(err)
	}

	results := make([]storage.BatchResult, len(req.Paths))
	for i, p := range req.Paths {
		results[i] = storage.BatchResult{Path: p}
	}
	for _, e := range out.Errors {
		i, ok := byKey[aws.ToString(e.Key)]
		if !ok || aws.ToString(e.Code) == "NoSuchKey" {
			continue
		}
		results[i].Err = storage.NewError(codeKind(aws.ToString(e.Code)), "%s", aws.ToString(e.Message)).
			WithContext("code", aws.ToString(e.Code))
	}
	return results, nil
}

// codeKind maps the error code of a DeleteObjects item.
func codeKind(code string) storage.ErrorKind {
	switch code {
	case "AccessDenied":
		return storage.KindPermissionDenied
	case "SlowDown":
		return storage.KindRateLimited
	default:
		return storage.KindUnexpected
	}
}
