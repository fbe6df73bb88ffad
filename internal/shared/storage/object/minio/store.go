package minio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"docchat-backend/internal/shared/storage/object"
)

// Config holds MinIO connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store implements object.Store on a MinIO (S3-compatible) bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to MinIO and ensures the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}

	ensureCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ensureCtx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		exists, xerr := mc.BucketExists(ensureCtx, cfg.Bucket)
		if xerr != nil || !exists {
			return nil, fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	return &Store{client: mc, bucket: cfg.Bucket}, nil
}

// Save uploads the reader under the tenant's namespace.
func (s *Store) Save(ctx context.Context, tenantID, fileName string, r io.Reader) (object.Object, error) {
	key, err := object.NewKey(tenantID, fileName)
	if err != nil {
		return object.Object{}, err
	}
	body, mimeType, err := object.Sniff(r)
	if err != nil {
		return object.Object{}, err
	}
	n, err := s.put(ctx, key, mimeType, body)
	if err != nil {
		return object.Object{}, err
	}
	return object.Object{Key: key, SizeBytes: n, ContentType: mimeType}, nil
}

// SaveWithKey uploads data to a specific key.
func (s *Store) SaveWithKey(ctx context.Context, storageKey, contentType string, r io.Reader) (int64, error) {
	if !object.ValidKey(storageKey) {
		return 0, fmt.Errorf("invalid storage key")
	}
	return s.put(ctx, storageKey, contentType, r)
}

// Open returns a reader for the stored object after confirming it exists.
func (s *Store) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, storageKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio get object key=%s: %w", storageKey, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, fmt.Errorf("minio get object key=%s: %w", storageKey, object.ErrNotFound)
		}
		return nil, fmt.Errorf("minio stat key=%s: %w", storageKey, err)
	}
	return obj, nil
}

// Delete removes the object; missing keys are ignored.
func (s *Store) Delete(ctx context.Context, storageKey string) error {
	err := s.client.RemoveObject(ctx, s.bucket, storageKey, minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("minio remove key=%s: %w", storageKey, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return 0, fmt.Errorf("minio put object key=%s: %w", key, err)
	}
	return info.Size, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

var _ object.Store = (*Store)(nil)
