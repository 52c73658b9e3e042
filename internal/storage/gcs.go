package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// NewGCSClient prefers Application Default Credentials; credentialsJSON overrides them
// when set (local runs).
func NewGCSClient(ctx context.Context, credentialsJSON string) (*gcs.Client, error) {
	if strings.TrimSpace(credentialsJSON) != "" {
		return gcs.NewClient(ctx, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	return gcs.NewClient(ctx)
}

// GCSStore keeps objects in one Google Cloud Storage bucket. The client is shared
// and owned by the caller.
type GCSStore struct {
	client *gcs.Client
	bucket string
	logger *slog.Logger
}

func NewGCSStore(client *gcs.Client, bucket string, logger *slog.Logger) *GCSStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSStore{client: client, bucket: bucket, logger: logger}
}

// CheckBucket fails when the bucket is missing or not accessible.
func (s *GCSStore) CheckBucket(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("gcs bucket %q not found or not accessible: %w", s.bucket, err)
	}
	return nil
}

func (s *GCSStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	wc := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("failed to upload bytes to Google Cloud Storage: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	s.logger.Debug("storage.gcs.upload", "bucket", s.bucket, "path", path, "bytes", len(data))
	return nil
}

func (s *GCSStore) Download(ctx context.Context, path string) ([]byte, error) {
	rc, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open gcs reader: %w", err)
	}
	defer func(rc io.ReadCloser) {
		if err := rc.Close(); err != nil {
			s.logger.Warn("storage.gcs.reader_close_error", "path", path, "error", err)
		}
	}(rc)
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read gcs object: %w", err)
	}
	return b, nil
}

func (s *GCSStore) Delete(ctx context.Context, path string) error {
	err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, path)
	}
	return err
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var out []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gcs objects: %w", err)
		}
		out = append(out, ObjectInfo{Path: attrs.Name, Size: attrs.Size, UpdatedAt: attrs.Updated})
	}
	return out, nil
}
