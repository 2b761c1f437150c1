package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
)

// S3Repository manages S3 interactions for snapshot shards.
type S3Repository struct {
	client     *s3.Client
	uploader   *manager.Uploader
	bucketName string
}

// NewS3Repository initializes a new S3Repository.
func NewS3Repository(client *s3.Client, bucketName string) *S3Repository {
	return &S3Repository{
		client:     client,
		uploader:   manager.NewUploader(client),
		bucketName: bucketName,
	}
}

func (r *S3Repository) GetBucketName() string {
	return r.bucketName
}

func (r *S3Repository) GetStorageType() string {
	return string(S3Type)
}

// Upload streams reader to key through the multipart uploader.
func (r *S3Repository) Upload(ctx context.Context, key string, reader io.Reader, quiet bool) (string, error) {
	body := reader
	if !quiet {
		bar := progressbar.DefaultBytes(readerSize(reader), "uploading "+key)
		pb := progressbar.NewReader(reader, bar)
		body = &pb
	}

	_, err := r.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Debugf("Uploaded s3://%s/%s", r.bucketName, key)
	return r.bucketName + "/" + key, nil
}

// Download opens key for reading.
func (r *S3Repository) Download(ctx context.Context, key string, quiet bool) (io.ReadCloser, error) {
	result, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}

	if quiet || result.ContentLength == nil {
		return result.Body, nil
	}
	bar := progressbar.DefaultBytes(*result.ContentLength, "downloading "+key)
	return &progressReader{r: result.Body, bar: bar}, nil
}

// Delete removes key.
func (r *S3Repository) Delete(ctx context.Context, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// DeletePrefix removes every object under prefix, one listing page at a time.
func (r *S3Repository) DeletePrefix(ctx context.Context, prefix string) error {
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucketName),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = r.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(r.bucketName),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects with prefix %s: %w", prefix, err)
		}
	}
	return nil
}
