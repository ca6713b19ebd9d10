package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const maxReceiptArtifactBytes = 10 << 20

var (
	ErrUnsupportedArtifactType = errors.New("unsupported receipt artifact type")
	ErrArtifactTooLarge        = errors.New("receipt artifact exceeds size cap")
)

var allowedArtifactTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
}

// ReceiptStorage persists receipt artifacts and hands out presigned read
// URLs for the OCR service.
type ReceiptStorage interface {
	Store(ctx context.Context, submissionID, contentType string, size int64, r io.Reader) (string, error)
	PresignGet(ctx context.Context, storageKey string, expiry time.Duration) (string, error)
}

type MinioReceiptStorage struct {
	client *minio.Client
	bucket string
}

type MinioStorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewMinioReceiptStorage(cfg MinioStorageConfig) (*MinioReceiptStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioReceiptStorage{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinioReceiptStorage) Store(ctx context.Context, submissionID, contentType string, size int64, r io.Reader) (string, error) {
	ext, ok := allowedArtifactTypes[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedArtifactType, contentType)
	}
	if size <= 0 || size > maxReceiptArtifactBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrArtifactTooLarge, size)
	}
	key := fmt.Sprintf("receipts/%s%s", submissionID, ext)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return key, nil
}

func (s *MinioReceiptStorage) PresignGet(ctx context.Context, storageKey string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, storageKey, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign artifact: %w", err)
	}
	return u.String(), nil
}

// NoopReceiptStorage is the development stand-in: validates the artifact the
// same way but keeps nothing.
type NoopReceiptStorage struct{}

func NewNoopReceiptStorage() *NoopReceiptStorage { return &NoopReceiptStorage{} }

func (*NoopReceiptStorage) Store(_ context.Context, submissionID, contentType string, size int64, _ io.Reader) (string, error) {
	ext, ok := allowedArtifactTypes[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedArtifactType, contentType)
	}
	if size <= 0 || size > maxReceiptArtifactBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrArtifactTooLarge, size)
	}
	return fmt.Sprintf("dev/%s%s", submissionID, ext), nil
}

func (*NoopReceiptStorage) PresignGet(_ context.Context, storageKey string, _ time.Duration) (string, error) {
	return "file:///dev/null#" + storageKey, nil
}
