package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// Config holds S3-compatible object storage configuration. Endpoint is
// optional; when set the client targets a self-hosted store (MinIO).
type Config struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	Bucket         string
	KeyPrefix      string
	PublicBaseURL  string
	RequestTimeout time.Duration
}

// Client performs serialized per-call uploads and deletes against an
// S3-compatible store. It is not internally concurrent; callers own the
// serialization of calls within one job.
type Client struct {
	s3     *s3.Client
	config *Config
	logger *slog.Logger
}

// NewClient builds the S3 client and verifies the bucket exists,
// creating it when missing.
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load object store config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		}
	})

	client := &Client{
		s3:     s3Client,
		config: config,
		logger: logger,
	}

	if err := client.ensureBucket(ctx); err != nil {
		return nil, err
	}

	logger.Info("Object store client initialized",
		slog.String("bucket", config.Bucket),
		slog.String("endpoint", config.Endpoint),
		slog.Duration("request_timeout", config.RequestTimeout),
	)

	return client, nil
}

// ensureBucket creates the bucket if it does not exist yet.
func (c *Client) ensureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.config.Bucket),
	})
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchBucket") {
		c.logger.Info("Creating bucket",
			slog.String("bucket", c.config.Bucket),
		)
		if _, err := c.s3.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(c.config.Bucket),
		}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", c.config.Bucket, err)
		}
		return nil
	}

	return fmt.Errorf("failed to check bucket %s: %w", c.config.Bucket, err)
}

// Upload stores one object under the configured prefix and returns its
// public URL. Each call carries its own timeout.
func (c *Client) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if key == "" {
		return "", errors.New("object key cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	fullKey := c.objectKey(key)

	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.config.Bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", fullKey, err)
	}

	c.logger.Debug("Object uploaded",
		slog.String("key", fullKey),
		slog.Int("size", len(data)),
	)

	return c.URLFor(fullKey), nil
}

// Delete removes one object. Each call carries its own timeout.
func (c *Client) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("object key cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}

	c.logger.Debug("Object deleted",
		slog.String("key", key),
	)

	return nil
}

// URLFor returns the public URL for a stored object key.
func (c *Client) URLFor(fullKey string) string {
	base := c.config.PublicBaseURL
	if base == "" {
		base = fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Endpoint, "/"), c.config.Bucket)
	}
	return fmt.Sprintf("%s/%s", strings.TrimSuffix(base, "/"), fullKey)
}

// KeyPrefix returns the configured key namespace.
func (c *Client) KeyPrefix() string {
	return c.config.KeyPrefix
}

// KeyFromURL extracts the object key from one of this store's public
// URLs, or returns an empty string for foreign URLs.
func (c *Client) KeyFromURL(url string) string {
	return KeyFromURL(url, c.config.PublicBaseURL, c.config.Bucket)
}

// objectKey joins the configured prefix with a relative key.
func (c *Client) objectKey(key string) string {
	if c.config.KeyPrefix == "" {
		return key
	}
	return strings.TrimSuffix(c.config.KeyPrefix, "/") + "/" + key
}

// KeyFromURL extracts the object key from a stored public URL. Returns
// an empty string when the URL does not point into the public base.
func KeyFromURL(url, publicBase, bucket string) string {
	base := strings.TrimSuffix(publicBase, "/") + "/"
	if base != "/" && strings.HasPrefix(url, base) {
		return strings.TrimPrefix(url, base)
	}
	// Fall back to path-style: everything after "/<bucket>/".
	marker := "/" + bucket + "/"
	if idx := strings.Index(url, marker); idx >= 0 {
		return url[idx+len(marker):]
	}
	return ""
}
