package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore persists transcode artifacts (HLS renditions, thumbnails) and
// returns the public URL each object is served from.
type ObjectStore interface {
	Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (string, error)
	UploadFile(ctx context.Context, objectKey, filePath, contentType string) (string, error)
	Remove(ctx context.Context, objectKey string) error
}

// ObjectStorageConfig wires an S3-compatible endpoint.
type ObjectStorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBase overrides the URL prefix handed back to clients. When empty
	// the endpoint and bucket form the prefix.
	PublicBase string
}

// MinioStore is the S3-compatible ObjectStore implementation.
type MinioStore struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

// NewMinioStore connects to the configured endpoint and ensures the bucket
// exists.
func NewMinioStore(ctx context.Context, cfg ObjectStorageConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("object storage endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
	}
	publicBase := strings.TrimRight(cfg.PublicBase, "/")
	if publicBase == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicBase = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, publicBase: publicBase}, nil
}

// Upload streams the reader into the bucket and returns the public URL.
func (m *MinioStore) Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (string, error) {
	objectKey = cleanObjectKey(objectKey)
	_, err := m.client.PutObject(ctx, m.bucket, objectKey, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload %q: %w", objectKey, err)
	}
	return m.publicURL(objectKey), nil
}

// UploadFile uploads a file from disk and returns the public URL.
func (m *MinioStore) UploadFile(ctx context.Context, objectKey, filePath, contentType string) (string, error) {
	objectKey = cleanObjectKey(objectKey)
	_, err := m.client.FPutObject(ctx, m.bucket, objectKey, filePath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload %q: %w", objectKey, err)
	}
	return m.publicURL(objectKey), nil
}

// Remove deletes the object, ignoring objects that are already gone.
func (m *MinioStore) Remove(ctx context.Context, objectKey string) error {
	err := m.client.RemoveObject(ctx, m.bucket, cleanObjectKey(objectKey), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("remove %q: %w", objectKey, err)
	}
	return nil
}

func (m *MinioStore) publicURL(objectKey string) string {
	escaped := make([]string, 0)
	for _, segment := range strings.Split(objectKey, "/") {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return m.publicBase + "/" + strings.Join(escaped, "/")
}

func cleanObjectKey(objectKey string) string {
	return strings.TrimPrefix(path.Clean("/"+objectKey), "/")
}

// NoopObjectStore returns deterministic local URLs without uploading
// anything. Used in development and tests.
type NoopObjectStore struct {
	Base string
}

func (n NoopObjectStore) Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (string, error) {
	return n.urlFor(objectKey), nil
}

func (n NoopObjectStore) UploadFile(ctx context.Context, objectKey, filePath, contentType string) (string, error) {
	return n.urlFor(objectKey), nil
}

func (n NoopObjectStore) Remove(ctx context.Context, objectKey string) error {
	return nil
}

func (n NoopObjectStore) urlFor(objectKey string) string {
	base := strings.TrimRight(n.Base, "/")
	if base == "" {
		base = "/media"
	}
	return base + "/" + cleanObjectKey(objectKey)
}
