package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore implements ObjectStore on the local filesystem. It backs local
// development and tests where no MinIO endpoint is configured; PresignGet
// returns a file URL instead of a signed HTTP one.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Put writes the object under the base directory.
func (f *FileStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	target := f.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// PresignGet returns a file URL for the object.
func (f *FileStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	target := f.path(key)
	if _, err := os.Stat(target); err != nil {
		return "", fmt.Errorf("stat object: %w", err)
	}
	return "file://" + target, nil
}

// Delete removes the object.
func (f *FileStore) Delete(_ context.Context, key string) error {
	target := f.path(key)
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(target)
}

func (f *FileStore) path(key string) string {
	clean := filepath.Clean("/" + key)
	return filepath.Join(f.basePath, clean)
}
