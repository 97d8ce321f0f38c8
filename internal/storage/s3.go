package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Service archives run outputs in S3-compatible storage.
type S3Service struct {
	client *minio.Client
}

// NewS3Service initializes and returns a new S3 storage service.
// It connects to the MinIO server using credentials from environment variables.
func NewS3Service() (*S3Service, error) {
	minioEndpoint := os.Getenv("MINIO_ENDPOINT")
	minioAccessKey := os.Getenv("MINIO_ACCESS_KEY")
	minioSecretKey := os.Getenv("MINIO_SECRET_KEY")
	useSSL := os.Getenv("MINIO_USE_SSL") == "true"

	if minioEndpoint == "" || minioAccessKey == "" || minioSecretKey == "" {
		return nil, fmt.Errorf("missing one or more required environment variables: MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY")
	}

	minioClient, err := minio.New(minioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(minioAccessKey, minioSecretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %v", err)
	}

	log.Println("Successfully connected to MinIO endpoint:", minioEndpoint)
	return &S3Service{client: minioClient}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *S3Service) EnsureBucket(ctx context.Context, bucketName string) error {
	exists, err := s.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("error checking bucket existence: %v", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// StoreCSV uploads an output file under the given key. Existing objects are
// overwritten: re-running a job replaces that day's archive.
func (s *S3Service) StoreCSV(ctx context.Context, bucketName, objectKey string, data []byte) error {
	_, err := s.client.PutObject(
		ctx,
		bucketName,
		objectKey,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/csv"},
	)
	if err != nil {
		return fmt.Errorf("failed to store object in S3: %v", err)
	}

	log.Printf("Successfully archived output in bucket '%s' with key '%s'", bucketName, objectKey)
	return nil
}

// FetchCSV retrieves an archived output file by key.
func (s *S3Service) FetchCSV(ctx context.Context, bucketName, objectKey string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object from S3: %v", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read object from S3: %v", err)
	}
	return data, nil
}
