package s3

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittostore/pkg/storage"
)

// Stat implements storage.Accessor.
//
// A directory exists when it is the root, has a "dir/" marker object, or
// is the prefix of at least one key.
func (a *Accessor) Stat(ctx context.Context, path string, opts storage.StatOptions) (storage.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return storage.Metadata{}, err
	}

	key := a.key(path)
	if storage.IsDirPath(path) {
		exists, err := a.dirExists(ctx, key)
		if err != nil {
			return storage.Metadata{}, err
		}
		if !exists {
			return storage.Metadata{}, storage.NewError(storage.KindNotFound, "directory not found")
		}
		return storage.NewMetadata(storage.ModeDir), nil
	}

	in := &s3.HeadObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)}
	if opts.IfMatch != "" {
		in.IfMatch = aws.String(opts.IfMatch)
	}
	if opts.IfNoneMatch != "" {
		in.IfNoneMatch = aws.String(opts.IfNoneMatch)
	}

	start := time.Now()
	out, err := a.client.HeadObject(ctx, in)
	a.observe("HeadObject", start, err)
	if err != nil {
		return storage.Metadata{}, mapError(err)
	}

	return headMetadata(out), nil
}

func (a *Accessor) dirExists(ctx context.Context, key string) (bool, error) {
	if key == strings.TrimPrefix(a.root, "/") {
		return true, nil
	}

	start := time.Now()
	out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	a.observe("ListObjectsV2", start, err)
	if err != nil {
		return false, mapError(err)
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

// fileMetadata builds file metadata from the optional fields S3 returns.
func fileMetadata(length *int64, etag *string, modified *time.Time) storage.Metadata {
	md := storage.NewMetadata(storage.ModeFile)
	if length != nil {
		md = md.WithContentLength(*length)
	}
	if etag != nil {
		md = md.WithETag(*etag)
	}
	if modified != nil {
		md = md.WithLastModified(*modified)
	}
	return md
}

func headMetadata(out *s3.HeadObjectOutput) storage.Metadata {
	md := fileMetadata(out.ContentLength, out.ETag, out.LastModified)
	// Unversioned buckets report the version "null".
	if v := aws.ToString(out.VersionId); v != "" && v != "null" {
		md = md.WithVersion(v)
	}
	if out.ContentType != nil {
		md = md.WithContentType(*out.ContentType)
	}
	if out.ContentDisposition != nil {
		md = md.WithContentDisposition(*out.ContentDisposition)
	}
	if out.CacheControl != nil {
		md = md.WithCacheControl(*out.CacheControl)
	}
	return md
}

// Read implements storage.Accessor.
//
// A range starting past the end of the object reads as empty.
func (a *Accessor) Read(ctx context.Context, path string, opts storage.ReadOptions) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in := &s3.GetObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(a.key(path))}
	if !opts.Range.IsFull() {
		in.Range = aws.String(opts.Range.HTTPHeader())
	}
	if opts.IfMatch != "" {
		in.IfMatch = aws.String(opts.IfMatch)
	}
	if opts.IfNoneMatch != "" {
		in.IfNoneMatch = aws.String(opts.IfNoneMatch)
	}
	if opts.OverrideCacheControl != "" {
		in.ResponseCacheControl = aws.String(opts.OverrideCacheControl)
	}
	if opts.OverrideContentDisposition != "" {
		in.ResponseContentDisposition = aws.String(opts.OverrideContentDisposition)
	}
	if opts.OverrideContentType != "" {
		in.ResponseContentType = aws.String(opts.OverrideContentType)
	}

	start := time.Now()
	out, err := a.client.GetObject(ctx, in)
	a.observe("GetObject", start, err)
	if err != nil {
		mapped := mapError(err)
		if in.Range != nil && mapped.Kind == storage.KindInvalidInput {
			return io.NopCloser(bytes.NewReader(nil)), nil
		}
		return nil, mapped
	}

	return &metricsReadCloser{ReadCloser: out.Body, metrics: a.metrics, operation: "read"}, nil
}
