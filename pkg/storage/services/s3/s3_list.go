package s3

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittostore/pkg/storage"
)

// List implements storage.Accessor over ListObjectsV2.
//
// Pages are fetched lazily with the SDK paginator. Without Recursive the
// listing uses the "/" delimiter and common prefixes become directory
// entries. Keys are returned in S3's lexical order.
func (a *Accessor) List(ctx context.Context, path string, opts storage.ListOptions) (storage.Lister, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := a.key(path)
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	}
	if !opts.Recursive {
		in.Delimiter = aws.String("/")
	}
	if opts.Limit > 0 {
		in.MaxKeys = aws.Int32(int32(min(opts.Limit, 1000)))
	}
	if opts.StartAfter != "" {
		in.StartAfter = aws.String(a.key(opts.StartAfter))
	}

	paginator := s3.NewListObjectsV2Paginator(a.client, in)

	return storage.NewPageLister(func(ctx context.Context, _ string) ([]storage.Entry, string, bool, error) {
		for paginator.HasMorePages() {
			start := time.Now()
			page, err := paginator.NextPage(ctx)
			a.observe("ListObjectsV2", start, err)
			if err != nil {
				return nil, "", false, mapError(err)
			}

			entries := a.pageEntries(prefix, page)
			if len(entries) > 0 {
				return entries, aws.ToString(page.NextContinuationToken), !paginator.HasMorePages(), nil
			}
		}
		return nil, "", true, nil
	}), nil
}

// pageEntries converts one ListObjectsV2 page. The directory marker of the
// listed prefix itself is skipped.
func (a *Accessor) pageEntries(prefix string, page *s3.ListObjectsV2Output) []storage.Entry {
	entries := make([]storage.Entry, 0, len(page.CommonPrefixes)+len(page.Contents))

	for _, cp := range page.CommonPrefixes {
		p := aws.ToString(cp.Prefix)
		entries = append(entries, storage.NewEntry(storage.RelPath(a.root, p), storage.NewMetadata(storage.ModeDir)))
	}
	for _, obj := range page.Contents {
		key := aws.ToString(obj.Key)
		if key == prefix {
			continue
		}
		rel := storage.RelPath(a.root, key)
		if strings.HasSuffix(key, "/") {
			entries = append(entries, storage.NewEntry(rel, storage.NewMetadata(storage.ModeDir)))
			continue
		}
		entries = append(entries, storage.NewEntry(rel, fileMetadata(obj.Size, obj.ETag, obj.LastModified)))
	}
	return entries
}
