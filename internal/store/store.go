// Package store persists model artifacts as immutable blobs grouped into version
// namespaces. Keys have the form "<namespace>/<name>".
package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
)

var (
	// ErrNotFound is returned when a key does not exist
	ErrNotFound = errors.New("blob not found")
	// ErrExists is returned when writing to a key that already holds a blob
	ErrExists = errors.New("blob already exists")
)

// BlobStore is an append-only key/value store for model artifacts
type BlobStore interface {
	// Put writes a new blob and refuses to overwrite an existing key.
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Namespaces lists the top-level namespaces (model versions).
	Namespaces(ctx context.Context) ([]string, error)
	// Location returns a human-readable location for a key.
	Location(key string) string
}

// New creates the blob store selected by configuration
func New(cfg *config.Config, logger *zap.Logger) (BlobStore, error) {
	switch cfg.Storage.Type {
	case "", "filesystem":
		return NewFilesystem(cfg.ML.ModelDir, logger)
	case "s3":
		return NewS3(cfg.Storage.S3, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// Key joins a namespace and an artifact name
func Key(namespace, name string) string {
	return namespace + "/" + name
}

// validateKey rejects keys that could escape the store root.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid blob key %q", key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("invalid blob key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." || part == "" {
			return fmt.Errorf("invalid blob key %q", key)
		}
	}
	return nil
}
