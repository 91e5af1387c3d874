// Package gcs archives HTML snapshots in Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// CacheControl is set on every written object when non-empty.
	CacheControl string
}

// objectWriter is the subset of *storage.Writer the store uses.
type objectWriter interface {
	io.WriteCloser
}

// BlobStore writes snapshots to a configured GCS bucket.
type BlobStore struct {
	cfg       Config
	newWriter func(ctx context.Context, path, contentType string) objectWriter
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	s, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	s.newWriter = func(ctx context.Context, path, contentType string) objectWriter {
		w := client.Bucket(cfg.Bucket).Object(path).NewWriter(ctx)
		w.ContentType = contentType
		if cfg.CacheControl != "" {
			w.CacheControl = cfg.CacheControl
		}
		return w
	}
	return s, nil
}

func newStore(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{cfg: cfg}, nil
}

// PutObject uploads data and returns a gs:// URI. The object is only committed when the
// writer closes cleanly.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(path, "/")
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.newWriter(ctx, path, contentType)
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return s.URI(path), nil
}

// URI returns the gs:// location of path in the configured bucket.
func (s *BlobStore) URI(path string) string {
	return fmt.Sprintf("gs://%s/%s", s.cfg.Bucket, strings.TrimLeft(path, "/"))
}
