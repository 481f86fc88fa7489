package resultstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	cferr "github.com/cleanflow/cleanflow/pkg/errors"
)

// S3Config holds S3 backend configuration.
type S3Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	Region string

	// Bucket is the bucket holding artifacts
	Bucket string

	// Prefix is prepended to every key (e.g., "cleanflow/results/")
	Prefix string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// OperationTimeout bounds each store operation
	OperationTimeout time.Duration
}

// DefaultS3Config returns sensible defaults.
func DefaultS3Config(bucket, region string) S3Config {
	return S3Config{
		Bucket:           bucket,
		Region:           region,
		Prefix:           "cleanflow/results/",
		OperationTimeout: 30 * time.Second,
	}
}

// S3Store keeps artifacts in S3. Write-once is enforced by checking for the
// key before writing; a concurrent writer can slip between the check and the
// put, but keys are content-addressed so both writers carry identical bytes
// and either winning is fine.
type S3Store struct {
	cfg    S3Config
	client *s3.Client
}

// NewS3Store creates an S3-backed result store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, cferr.StoreUnavailable("s3", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 30 * time.Second
	}

	return &S3Store{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
	}, nil
}

func (s *S3Store) objectKey(key string) string {
	return s.cfg.Prefix + key
}

// Put stores content unless the key already exists. An existing key makes
// the call a no-op regardless of the new content.
func (s *S3Store) Put(ctx context.Context, key string, content []byte) error {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		return cferr.StoreUnavailable("s3", err)
	}
	return nil
}

// Get retrieves content for a key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) || strings.Contains(err.Error(), "NoSuchKey") {
			return nil, false, nil
		}
		return nil, false, cferr.StoreUnavailable("s3", err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, cferr.StoreUnavailable("s3", err)
	}
	return content, true, nil
}

// Exists reports whether a key has been written.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) || strings.Contains(err.Error(), "NotFound") {
			return false, nil
		}
		return false, cferr.StoreUnavailable("s3", err)
	}
	return true, nil
}

// Close is a no-op; the SDK client holds no long-lived resources.
func (s *S3Store) Close() error {
	return nil
}
