// Package cas implements the content-addressed object store for the
// ingest pipeline. Payloads live under objects/, derivative bundles
// under derivatives/, both sharded on the digest so no listing prefix
// grows unbounded.
//
// This file contains configuration, the S3 client constructor, and the
// store constructor. Read and write operations live in s3_read.go and
// s3_write.go.
package cas

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds everything needed to reach one bucket. Endpoint and
// static credentials are optional; when empty the default AWS config
// chain applies. ForcePathStyle is required for MinIO and LocalStack.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool

	// MaxRetries bounds retry attempts for transient errors (default: 3).
	MaxRetries int

	// RequestTimeout bounds a single metadata-level request (default:
	// 30s, 0 keeps the default, negative disables). Get and Put are
	// exempt: their context must outlive the body transfer.
	RequestTimeout time.Duration
}

// retryConfig holds retry settings for storage operations.
type retryConfig struct {
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	attemptTimeout    time.Duration
}

// S3Store implements Store on Amazon S3 or any S3-compatible service.
// Safe for concurrent use.
type S3Store struct {
	client *s3.Client
	bucket string
	retry  retryConfig
}

var _ Store = (*S3Store)(nil)

// NewS3Client builds an S3 client from configuration. Static
// credentials are only injected when both halves are present, so a
// config without them falls through to the ambient credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return client, nil
}

// NewS3Store creates a store on an existing client and verifies bucket
// access. The bucket must already exist.
func NewS3Store(ctx context.Context, client *s3.Client, cfg S3Config) (*S3Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	attemptTimeout := cfg.RequestTimeout
	if attemptTimeout == 0 {
		attemptTimeout = 30 * time.Second
	}

	headCtx := ctx
	if attemptTimeout > 0 {
		var cancel context.CancelFunc
		headCtx, cancel = context.WithTimeout(ctx, attemptTimeout)
		defer cancel()
	}
	_, err := client.HeadBucket(headCtx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		retry: retryConfig{
			maxRetries:        maxRetries,
			initialBackoff:    100 * time.Millisecond,
			maxBackoff:        2 * time.Second,
			backoffMultiplier: 2.0,
			attemptTimeout:    attemptTimeout,
		},
	}, nil
}

// Bucket returns the bucket this store operates on.
func (s *S3Store) Bucket() string {
	return s.bucket
}
