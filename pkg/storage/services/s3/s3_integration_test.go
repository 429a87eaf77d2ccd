//go:build integration
// +build integration

package s3

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittostore/pkg/storage"
	storagetesting "github.com/marmos91/dittostore/pkg/storage/testing"
	"github.com/stretchr/testify/require"
)

// TestS3Accessor_Integration runs the conformance suite against a real
// S3-compatible service (Localstack).
//
// Prerequisites:
//   - Localstack running on localhost:4566
//   - Run with: go test -tags=integration ./pkg/storage/services/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3Accessor_Integration(t *testing.T) {
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	// ========================================================================
	// Setup: create the bucket with a raw client
	// ========================================================================

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	bucket := fmt.Sprintf("dittostore-test-%d", time.Now().UnixNano())
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	require.NoError(t, err)

	t.Cleanup(func() {
		op := storage.NewOperator(mustAccessor(t, endpoint, bucket, ""))
		_ = op.RemoveAll(ctx, "/")
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	})

	// ========================================================================
	// Run the suite, one root per test to keep them isolated
	// ========================================================================

	n := 0
	suite := &storagetesting.Suite{
		NewOperator: func(t *testing.T) *storage.Operator {
			n++
			return storage.NewOperator(mustAccessor(t, endpoint, bucket, fmt.Sprintf("/run-%d", n)))
		},
	}
	suite.Run(t)
}

func mustAccessor(t *testing.T, endpoint, bucket, root string) *Accessor {
	t.Helper()
	acc, err := NewFromConfig(context.Background(), Config{
		Bucket:          bucket,
		Root:            root,
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	}, nil)
	require.NoError(t, err)
	return acc
}
