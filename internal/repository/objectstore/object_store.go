// Package objectstore provides blob repositories on S3 and GCS, used to
// archive erasure-coded snapshots of the metadata store.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BlobRepository stores opaque objects under keys in one bucket.
type BlobRepository interface {
	Upload(ctx context.Context, key string, r io.Reader, quiet bool) (string, error)
	Download(ctx context.Context, key string, quiet bool) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	GetBucketName() string
	GetStorageType() string
}

// RepositoryType represents the type of object storage
type RepositoryType string

const (
	S3Type  RepositoryType = "s3"
	GCSType RepositoryType = "gcs"
)

// BucketConfig holds configuration for a storage bucket
type BucketConfig struct {
	Name string
	Type RepositoryType
}

// RepositoryFactory creates blob repositories from bucket specs. Provider
// clients are created on first use so an S3-only setup never needs GCS
// credentials.
type RepositoryFactory struct {
	awsConfig func(ctx context.Context) (aws.Config, error)
	gcsClient func(ctx context.Context) (*storage.Client, error)
}

// NewRepositoryFactory creates a new factory
func NewRepositoryFactory(
	awsConfig func(ctx context.Context) (aws.Config, error),
	gcsClient func(ctx context.Context) (*storage.Client, error),
) *RepositoryFactory {
	return &RepositoryFactory{awsConfig: awsConfig, gcsClient: gcsClient}
}

// CreateRepository creates a repository based on bucket configuration
func (f *RepositoryFactory) CreateRepository(ctx context.Context, config BucketConfig) (BlobRepository, error) {
	switch config.Type {
	case S3Type:
		if f.awsConfig == nil {
			return nil, fmt.Errorf("AWS config not available")
		}
		awsCfg, err := f.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return NewS3Repository(s3.NewFromConfig(awsCfg), config.Name), nil
	case GCSType:
		if f.gcsClient == nil {
			return nil, fmt.Errorf("GCS client not configured")
		}
		client, err := f.gcsClient(ctx)
		if err != nil {
			return nil, err
		}
		return NewGCSRepository(client, config.Name), nil
	default:
		return nil, fmt.Errorf("unsupported repository type: %s", config.Type)
	}
}

// ParseBucketConfig parses bucket configuration from string
// Formats: "s3://bucket-name", "gs://bucket-name", "s3:bucket-name", or "bucket-name" (defaults to S3)
func ParseBucketConfig(bucketStr string) (BucketConfig, error) {
	bucketStr = strings.TrimSpace(bucketStr)
	if bucketStr == "" {
		return BucketConfig{}, fmt.Errorf("bucket name cannot be empty")
	}

	scheme, name, found := strings.Cut(bucketStr, "://")
	if !found {
		scheme, name, found = strings.Cut(bucketStr, ":")
	}
	if !found {
		return BucketConfig{Name: bucketStr, Type: S3Type}, nil
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return BucketConfig{}, fmt.Errorf("bucket name cannot be empty")
	}

	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "s3":
		return BucketConfig{Name: name, Type: S3Type}, nil
	case "gs", "gcs":
		return BucketConfig{Name: name, Type: GCSType}, nil
	default:
		return BucketConfig{}, fmt.Errorf("unsupported scheme: %s", scheme)
	}
}
