package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/arcade-sync/internal/config"
)

// Store provides object storage for save snapshots. Objects live at
// {userID}/{gameID}.state inside the configured bucket, so the path
// namespace is owner-scoped by construction.
type Store struct {
	client    *minio.Client
	bucket    string
	signedTTL time.Duration
	logger    *slog.Logger
}

// NewStore creates a new object store client and ensures the bucket exists
func NewStore(cfg *config.StorageConfig, logger *slog.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket: %w", err)
		}
		logger.Info("created storage bucket", "bucket", cfg.Bucket)
	}

	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		signedTTL: cfg.SignedURLTTL,
		logger:    logger,
	}, nil
}

// SaveKey returns the deterministic object key for a (user, game) pair
func SaveKey(userID uuid.UUID, gameID string) string {
	return fmt.Sprintf("%s/%s.state", userID, gameID)
}

// Put writes a snapshot, overwriting any previous object at the same
// key, and returns the object key
func (s *Store) Put(ctx context.Context, userID uuid.UUID, gameID string, snapshot []byte) (string, error) {
	key := SaveKey(userID, gameID)
	reader := bytes.NewReader(snapshot)
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, int64(len(snapshot)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	return key, nil
}

// Get reads the full snapshot at the given key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return data, nil
}

// PresignedGet mints a short-lived signed download URL for the key
func (s *Store) PresignedGet(ctx context.Context, key string) (string, time.Duration, error) {
	signed, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.signedTTL, url.Values{})
	if err != nil {
		return "", 0, fmt.Errorf("signing download url: %w", err)
	}
	return signed.String(), s.signedTTL, nil
}

// Remove deletes the object at the given key
func (s *Store) Remove(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("removing snapshot: %w", err)
	}
	return nil
}

// ListKeys returns every object key in the bucket, for the orphan sweep
func (s *Store) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing objects: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
