package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var _ Store = (*MinIO)(nil)

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// MinIO stores attachments in a MinIO bucket.
type MinIO struct {
	mc     *minio.Client
	bucket string
}

func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("storage: minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("storage: minio access_key and secret_key are required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: creating minio client: %w", err)
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "cloudtype-uploads"
	}
	return &MinIO{mc: mc, bucket: bucket}, nil
}

// EnsureBucket creates the bucket on first start.
func (m *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := m.mc.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("storage: checking bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.mc.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("storage: creating bucket %s: %w", m.bucket, err)
	}
	return nil
}

func (m *MinIO) Save(ctx context.Context, up Upload) (string, error) {
	key := NewKey(up.ContentType)
	contentType := up.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := m.mc.PutObject(ctx, m.bucket, key, up.Body, up.Size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("storage: uploading %s: %w", key, err)
	}
	return Ref(key), nil
}

func (m *MinIO) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !ValidKey(key) {
		return nil, ErrNotFound
	}
	obj, err := m.mc.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: downloading %s: %w", key, err)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: stat %s: %w", key, err)
	}
	return obj, nil
}
