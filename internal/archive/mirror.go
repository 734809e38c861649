package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Mirror replicates archived objects to an S3 bucket, best effort. The local
// archive stays the source of truth: the sentinel predicate never consults
// the mirror, and mirror failures surface as compaction warnings only.
type Mirror struct {
	client     *s3.Client
	bucket     string
	prefix     string
	maxRetries int
}

// MirrorConfig holds configuration for the S3 mirror.
type MirrorConfig struct {
	// Bucket is the destination S3 bucket.
	Bucket string
	// Prefix is prepended to every object key.
	Prefix string
	// Region is the AWS region for the bucket.
	Region string
	// Endpoint is an optional custom endpoint (for MinIO, LocalStack, etc.).
	Endpoint string
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool
}

// NewMirror creates an S3 mirror client.
func NewMirror(ctx context.Context, cfg MirrorConfig) (*Mirror, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
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

	return &Mirror{
		client:     s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		maxRetries: 3,
	}, nil
}

// NewMirrorWithClient creates a mirror with a pre-configured client.
func NewMirrorWithClient(client *s3.Client, cfg MirrorConfig) *Mirror {
	return &Mirror{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		maxRetries: 3,
	}
}

func (m *Mirror) key(objectPath string) string {
	if m.prefix == "" {
		return objectPath
	}
	return m.prefix + "/" + objectPath
}

// Upload copies a local file to the mirror bucket.
func (m *Mirror) Upload(ctx context.Context, localPath, objectPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("mirror: failed to open %s: %w", localPath, err)
	}
	defer file.Close()

	return m.retryWithBackoff(ctx, func() error {
		// Reset file position for retry
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(m.bucket),
			Key:    aws.String(m.key(objectPath)),
			Body:   file,
		})
		return err
	})
}

// UploadBytes uploads in-memory data to the mirror bucket. Used for the
// summary artifact, which the archiver already holds serialized.
func (m *Mirror) UploadBytes(ctx context.Context, data []byte, objectPath string) error {
	return m.retryWithBackoff(ctx, func() error {
		_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(m.bucket),
			Key:    aws.String(m.key(objectPath)),
			Body:   bytes.NewReader(data),
		})
		return err
	})
}

// Exists checks if an object is present in the mirror bucket.
func (m *Mirror) Exists(ctx context.Context, objectPath string) (bool, error) {
	var exists bool
	err := m.retryWithBackoff(ctx, func() error {
		_, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(m.bucket),
			Key:    aws.String(m.key(objectPath)),
		})
		if err != nil {
			var notFound *types.NotFound
			if errors.As(err, &notFound) {
				exists = false
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// retryWithBackoff executes the operation with exponential backoff retry.
func (m *Mirror) retryWithBackoff(ctx context.Context, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if attempt < m.maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}
