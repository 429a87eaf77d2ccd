// Package s3 implements the storage backend over Amazon S3 and
// S3-compatible object stores (MinIO, Localstack, Cubbit DS3, ...).
//
// Path-Based Key Design:
//   - The object key is the storage path below the configured root
//   - Directories are key prefixes; CreateDir writes an empty "dir/" marker
//   - The bucket mirrors the logical tree and stays human-readable
//
// S3 Characteristics:
//   - Range reads are native; streams are not seekable
//   - Writes are single PutObject calls, switching to a multipart upload
//     once more than one part worth of data is written
//   - Copy is server-side; rename is emulated by the Operator
//   - Batch delete uses DeleteObjects, 1000 keys per request
package s3

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/storage"
)

// Scheme is the scheme name of the S3 backend.
const Scheme = "s3"

// S3 multipart limits.
const (
	MinPartSize     = 5 * 1024 * 1024
	MaxPartSize     = 5 * 1024 * 1024 * 1024
	DefaultPartSize = 8 * 1024 * 1024

	// MaxDeleteObjects is the key limit of one DeleteObjects request.
	MaxDeleteObjects = 1000
)

// API is the subset of *s3.Client the backend uses.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Presigner is the subset of *s3.PresignClient the backend uses.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignHeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Config configures the S3 backend.
type Config struct {
	// Bucket is the bucket name. It must exist.
	Bucket string `mapstructure:"bucket" validate:"required"`

	// Root prefixes every key, e.g. "/dittostore/data".
	Root string `mapstructure:"root"`

	// Name identifies the instance in OperatorInfo.
	Name string `mapstructure:"name"`

	Region string `mapstructure:"region" validate:"required"`

	// Endpoint overrides the S3 endpoint for compatible stores. Setting it
	// enables path-style addressing.
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`

	// AccessKeyID and SecretAccessKey select static credentials. When
	// empty, the default AWS credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`

	// PartSize is the multipart part size used when the caller gives no
	// chunk size. Between 5MiB and 5GiB.
	PartSize int64 `mapstructure:"part_size" validate:"omitempty,gte=5242880,lte=5368709120"`

	// MaxRetries is the SDK-level attempt count. Defaults to the SDK's.
	MaxRetries int `mapstructure:"max_retries" validate:"omitempty,gte=1"`

	// SkipBucketCheck disables the HeadBucket call at construction.
	SkipBucketCheck bool `mapstructure:"skip_bucket_check"`
}

// Options wires an Accessor to an existing client.
type Options struct {
	Client    API
	Presigner Presigner
	Bucket    string
	Root      string
	Name      string
	PartSize  int64
	Metrics   S3Metrics
}

// Accessor implements storage.Accessor on S3.
//
// Thread Safety:
// Safe for concurrent use. Concurrent writes to the same key are
// last-writer-wins.
type Accessor struct {
	storage.UnsupportedAccessor

	client    API
	presigner Presigner
	bucket    string
	root      string
	name      string
	partSize  int64
	metrics   S3Metrics
}

var _ storage.Accessor = (*Accessor)(nil)

// New creates an Accessor over an existing client.
func New(opts Options) (*Accessor, error) {
	if opts.Client == nil {
		return nil, storage.NewError(storage.KindConfigInvalid, "S3 client is required")
	}
	if opts.Bucket == "" {
		return nil, storage.NewError(storage.KindConfigInvalid, "bucket name is required")
	}

	partSize := opts.PartSize
	if partSize == 0 {
		partSize = DefaultPartSize
	}
	if partSize < MinPartSize || partSize > MaxPartSize {
		return nil, storage.NewError(storage.KindConfigInvalid,
			"part size must be between %d and %d bytes, got %d", MinPartSize, MaxPartSize, partSize)
	}

	m := opts.Metrics
	if m == nil {
		m = noopMetrics{}
	}

	return &Accessor{
		client:    opts.Client,
		presigner: opts.Presigner,
		bucket:    opts.Bucket,
		root:      storage.NormalizeRoot(opts.Root),
		name:      opts.Name,
		partSize:  partSize,
		metrics:   m,
	}, nil
}

// NewFromConfig builds the AWS client from cfg and verifies bucket access.
//
// Parameters:
//   - ctx: Context for loading AWS configuration and the bucket check
//   - cfg: backend configuration
//   - metrics: optional, nil disables S3-level metrics
//
// Returns:
//   - *Accessor: ready to use
//   - error: ConfigInvalid for bad settings, or the bucket check failure
func NewFromConfig(ctx context.Context, cfg Config, metrics S3Metrics) (*Accessor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Bucket == "" {
		return nil, storage.NewError(storage.KindConfigInvalid, "S3 backend: bucket is required")
	}
	if cfg.Region == "" {
		return nil, storage.NewError(storage.KindConfigInvalid, "S3 backend: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	if cfg.MaxRetries > 0 {
		configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = cfg.MaxRetries
			})
		}))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, storage.NewError(storage.KindConfigInvalid, "failed to load AWS config").WithCause(err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Verify bucket access
	// ========================================================================

	if !cfg.SkipBucketCheck {
		if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
			return nil, mapError(err).WithContext("bucket", cfg.Bucket)
		}
	}

	acc, err := New(Options{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Bucket:    cfg.Bucket,
		Root:      cfg.Root,
		Name:      cfg.Name,
		PartSize:  cfg.PartSize,
		Metrics:   metrics,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("S3 backend initialized: bucket=%s, region=%s, root=%s", cfg.Bucket, cfg.Region, acc.root)
	return acc, nil
}

// Info implements storage.Accessor.
func (a *Accessor) Info() storage.AccessorInfo {
	return storage.AccessorInfo{
		Scheme: Scheme,
		Root:   a.root,
		Name:   a.instanceName(),
		Capability: storage.Capability{
			Stat:                               true,
			StatWithIfMatch:                    true,
			StatWithIfNoneMatch:                true,
			Read:                               true,
			ReadWithRange:                      true,
			ReadWithIfMatch:                    true,
			ReadWithIfNoneMatch:                true,
			ReadWithOverrideCacheControl:       true,
			ReadWithOverrideContentDisposition: true,
			ReadWithOverrideContentType:        true,
			Write:                              true,
			WriteCanMulti:                      true,
			WriteWithContentType:               true,
			WriteWithContentDisposition:        true,
			WriteWithCacheControl:              true,
			WriteMultiMinSize:                  MinPartSize,
			WriteMultiMaxSize:                  MaxPartSize,
			CreateDir:                          true,
			Delete:                             true,
			Copy:                               true,
			List:                               true,
			ListWithLimit:                      true,
			ListWithStartAfter:                 true,
			ListWithDelimiterSlash:             true,
			ListWithoutDelimiter:               true,
			Presign:                            a.presigner != nil,
			PresignRead:                        a.presigner != nil,
			PresignStat:                        a.presigner != nil,
			PresignWrite:                       a.presigner != nil,
			Batch:                              true,
			BatchDelete:                        true,
			BatchMaxOperations:                 MaxDeleteObjects,
		},
	}
}

func (a *Accessor) instanceName() string {
	if a.name != "" {
		return a.name
	}
	return a.bucket
}

// key returns the object key of a normalized storage path.
func (a *Accessor) key(path string) string {
	return storage.AbsPath(a.root, path)
}

// observe reports one S3 request to the metrics sink.
func (a *Accessor) observe(op string, start time.Time, err error) {
	a.metrics.ObserveOperation(op, time.Since(start), err)
}
