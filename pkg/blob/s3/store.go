// Package s3 provides an S3-backed blob store implementation.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/pixstore/pkg/blob"
)

// DefaultPresignExpiry is used when PresignOptions.Expiry is zero.
const DefaultPresignExpiry = 15 * time.Minute

// Config holds configuration for the S3 blob store.
type Config struct {
	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO).
	ForcePathStyle bool

	// PresignExpiry is the default validity window for presigned URLs.
	PresignExpiry time.Duration
}

func (c *Config) applyDefaults() {
	if c.PresignExpiry <= 0 {
		c.PresignExpiry = DefaultPresignExpiry
	}
}

// Store is an S3-backed implementation of blob.Store.
type Store struct {
	client        *s3.Client
	presigner     *s3.PresignClient
	presignExpiry time.Duration
	closed        bool
	mu            sync.RWMutex
}

// New creates a new S3 blob store with an existing client.
func New(client *s3.Client, config Config) *Store {
	config.applyDefaults()
	return &Store{
		client:        client,
		presigner:     s3.NewPresignClient(client),
		presignExpiry: config.PresignExpiry,
	}
}

// NewFromConfig creates a new S3 blob store by creating an S3 client
// from config. This is the preferred constructor when you don't have an
// existing S3 client.
func NewFromConfig(ctx context.Context, config Config) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)

	if config.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}

	if config.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return New(client, config), nil
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return blob.ErrStoreClosed
	}
	return nil
}

// PresignPut returns a presigned PUT URL for ref.
func (s *Store) PresignPut(ctx context.Context, ref blob.Ref, opts blob.PresignOptions) (*blob.PresignedPut, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = s.presignExpiry
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	req, err := s.presigner.PresignPutObject(ctx, input, func(po *s3.PresignOptions) {
		po.Expires = expiry
	})
	if err != nil {
		return nil, fmt.Errorf("s3 presign put object: %w", err)
	}

	return &blob.PresignedPut{
		URL:       req.URL,
		ExpiresAt: time.Now().Add(expiry),
	}, nil
}

// Head returns object metadata, or nil when the object is absent.
func (s *Store) Head(ctx context.Context, ref blob.Ref) (*blob.Info, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3 head object: %w", err)
	}

	info := &blob.Info{
		ContentType: aws.ToString(resp.ContentType),
	}
	if resp.ContentLength != nil {
		info.Size = *resp.ContentLength
	}
	return info, nil
}

// Get returns the object with its payload, or nil when absent.
func (s *Store) Get(ctx context.Context, ref blob.Ref) (*blob.Object, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object body: %w", err)
	}

	return &blob.Object{
		Data:        data,
		ContentType: aws.ToString(resp.ContentType),
	}, nil
}

// Put writes an object unconditionally.
func (s *Store) Put(ctx context.Context, ref blob.Ref, data []byte, contentType string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	_, err := s.client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// Copy performs a server-side copy from src to dst.
func (s *Store) Copy(ctx context.Context, src, dst blob.Ref, metadata map[string]string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	input := &s3.CopyObjectInput{
		Bucket:     aws.String(dst.Bucket),
		Key:        aws.String(dst.Key),
		CopySource: aws.String(src.Bucket + "/" + src.Key),
	}
	if metadata != nil {
		input.Metadata = metadata
		input.MetadataDirective = types.MetadataDirectiveReplace
	}

	_, err := s.client.CopyObject(ctx, input)
	if err != nil {
		return fmt.Errorf("s3 copy object: %w", err)
	}
	return nil
}

// Delete removes an object. Deleting a missing object is a no-op.
func (s *Store) Delete(ctx context.Context, ref blob.Ref) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete object: %w", err)
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// HealthCheck verifies the given bucket is accessible.
// Performs a HeadBucket call to check connectivity and permissions.
func (s *Store) HealthCheck(ctx context.Context, bucket string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}

// isNotFoundError checks if an error is an S3 not found error.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	// Check for NoSuchKey error
	errStr := err.Error()
	return strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "404")
}

// Ensure Store implements blob.Store.
var _ blob.Store = (*Store)(nil)
