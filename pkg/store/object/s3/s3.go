// Package s3 implements the object store on Amazon S3 or S3-compatible
// storage (MinIO, Localstack).
package s3

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/store/object"
)

// Config contains configuration for the S3 object store.
type Config struct {
	// Endpoint overrides the S3 endpoint for S3-compatible storage.
	// Empty uses AWS.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Region is the AWS region.
	Region string `mapstructure:"region" yaml:"region"`

	// Bucket holds all wallpaper originals.
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// AccessKeyID and SecretAccessKey are static credentials. When both are
	// empty the default AWS credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`

	// ForcePathStyle addresses the bucket in the path instead of the host.
	// Required for MinIO and Localstack.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`

	// CreateBucket creates the bucket on startup when it does not exist.
	CreateBucket bool `mapstructure:"create_bucket" yaml:"create_bucket"`

	// MaxRetries is the attempt budget for transient errors (default: 3).
	MaxRetries uint `mapstructure:"max_retries" yaml:"max_retries"`

	// InitialBackoff is the delay before the first retry (default: 100ms).
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`

	// MaxBackoff caps the exponential backoff (default: 2s).
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`

	// BackoffMultiplier grows the backoff each attempt (default: 2.0).
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// retryConfig holds the resolved retry settings.
type retryConfig struct {
	maxRetries        uint
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

// s3API is the subset of the S3 client the store calls. Satisfied by
// *s3.Client; fakeable in tests.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Store is the S3 implementation of object.Store.
type Store struct {
	client  s3API
	bucket  string
	retry   retryConfig
	onRetry func()
}

var _ object.Store = (*Store)(nil)

// NewClientFromConfig builds an S3 client from the configuration.
func NewClientFromConfig(ctx context.Context, cfg *Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
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
			o.BaseEndpoint = &cfg.Endpoint
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return client, nil
}

// New creates the store and verifies (or creates) the bucket.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	client, err := NewClientFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	retry := retryConfig{
		maxRetries:        cfg.MaxRetries,
		initialBackoff:    cfg.InitialBackoff,
		maxBackoff:        cfg.MaxBackoff,
		backoffMultiplier: cfg.BackoffMultiplier,
	}
	if retry.maxRetries == 0 {
		retry.maxRetries = 3
	}
	if retry.initialBackoff == 0 {
		retry.initialBackoff = 100 * time.Millisecond
	}
	if retry.maxBackoff == 0 {
		retry.maxBackoff = 2 * time.Second
	}
	if retry.backoffMultiplier == 0 {
		retry.backoffMultiplier = 2.0
	}

	store := &Store{
		client: client,
		bucket: cfg.Bucket,
		retry:  retry,
	}

	if err := store.ensureBucket(ctx, cfg.CreateBucket); err != nil {
		return nil, err
	}

	logger.Info("S3 object store initialized", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint)
	return store, nil
}

// ensureBucket verifies bucket access, optionally creating it.
func (s *Store) ensureBucket(ctx context.Context, create bool) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}
	if !create || !isNotFoundError(err) {
		return fmt.Errorf("failed to access bucket %q: %w", s.bucket, err)
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		// Lost a creation race with another instance.
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %q: %w", s.bucket, err)
	}

	logger.Info("Created bucket", "bucket", s.bucket)
	return nil
}

// SetRetryHook registers a callback invoked once per transient-error write
// retry. h may be nil.
func (s *Store) SetRetryHook(h func()) {
	s.onRetry = h
}

// Healthcheck verifies bucket access.
func (s *Store) Healthcheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %q unreachable: %w", s.bucket, err)
	}
	return nil
}
