package s3

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittostore/pkg/storage"
)

// Presign implements storage.Accessor. Signing is local; no request is
// sent.
func (a *Accessor) Presign(ctx context.Context, path string, opts storage.PresignOptions) (storage.PresignedRequest, error) {
	if a.presigner == nil {
		return storage.PresignedRequest{}, storage.Unsupported(storage.OperationPresign, "presign")
	}

	bucket, key := aws.String(a.bucket), aws.String(a.key(path))
	expires := s3.WithPresignExpires(opts.Expire)

	var (
		req *v4.PresignedHTTPRequest
		err error
	)
	start := time.Now()
	switch opts.Operation {
	case storage.PresignRead:
		req, err = a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: bucket, Key: key}, expires)
	case storage.PresignStat:
		req, err = a.presigner.PresignHeadObject(ctx, &s3.HeadObjectInput{Bucket: bucket, Key: key}, expires)
	case storage.PresignWrite:
		in := &s3.PutObjectInput{Bucket: bucket, Key: key}
		if opts.ContentType != "" {
			in.ContentType = aws.String(opts.ContentType)
		}
		req, err = a.presigner.PresignPutObject(ctx, in, expires)
	default:
		return storage.PresignedRequest{}, storage.NewError(storage.KindInvalidInput, "unknown presign operation %q", opts.Operation)
	}
	a.observe("Presign", start, err)
	if err != nil {
		return storage.PresignedRequest{}, mapError(err)
	}

	return storage.NewPresignedRequest(req.Method, req.URL, req.SignedHeader), nil
}
