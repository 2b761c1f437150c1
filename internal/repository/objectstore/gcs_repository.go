package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
)

// GCSRepository implements BlobRepository for Google Cloud Storage
type GCSRepository struct {
	client     *storage.Client
	bucketName string
}

// NewGCSRepository creates a new GCS repository
func NewGCSRepository(client *storage.Client, bucketName string) *GCSRepository {
	return &GCSRepository{client: client, bucketName: bucketName}
}

// Upload uploads an object to GCS
func (r *GCSRepository) Upload(ctx context.Context, key string, reader io.Reader, quiet bool) (string, error) {
	writer := r.client.Bucket(r.bucketName).Object(key).NewWriter(ctx)

	src := reader
	if !quiet {
		log.Debugf("Uploading to GCS: gs://%s/%s", r.bucketName, key)
		bar := progressbar.DefaultBytes(readerSize(reader), "uploading "+key)
		pb := progressbar.NewReader(reader, bar)
		src = &pb
	}

	if _, err := io.Copy(writer, src); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}
	// The object is committed on Close.
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}

	return fmt.Sprintf("%s/%s", r.bucketName, key), nil
}

// Download downloads an object from GCS
func (r *GCSRepository) Download(ctx context.Context, key string, quiet bool) (io.ReadCloser, error) {
	reader, err := r.client.Bucket(r.bucketName).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to download from GCS: %w", err)
	}
	if quiet {
		return reader, nil
	}

	log.Debugf("Downloading from GCS: gs://%s/%s", r.bucketName, key)
	bar := progressbar.DefaultBytes(reader.Attrs.Size, "downloading "+key)
	return &progressReader{r: reader, bar: bar}, nil
}

// Delete deletes an object from GCS
func (r *GCSRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Bucket(r.bucketName).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// DeletePrefix deletes all objects with the given prefix from GCS
func (r *GCSRepository) DeletePrefix(ctx context.Context, prefix string) error {
	bucket := r.client.Bucket(r.bucketName)
	it := bucket.Objects(ctx, &storage.Query{Prefix: prefix})

	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}

		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil {
			log.Warnf("Failed to delete object %s: %v", attrs.Name, err)
		}
	}
}

func (r *GCSRepository) GetBucketName() string {
	return r.bucketName
}

func (r *GCSRepository) GetStorageType() string {
	return string(GCSType)
}
