// Package local stores flattened chunks and the metadata index on the local
// filesystem. Objects are published with an atomic rename, so a reader sees
// either the previous object or the new one.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/hood-archiver/internal/atomicfile"
)

// ErrNotFound is returned by GetObject for a missing object.
var ErrNotFound = errors.New("object not found")

// Config holds the local store settings.
type Config struct {
	// BaseDir receives every object; nested object names become subdirectories.
	BaseDir string `mapstructure:"base_dir"`
}

// BlobStore implements crawler.BlobStore under a base directory.
type BlobStore struct {
	baseDir string
}

// New creates BaseDir when needed and fails unless it accepts writes.
func New(cfg Config) (*BlobStore, error) {
	dir := strings.TrimSpace(cfg.BaseDir)
	if dir == "" {
		return nil, errors.New("storage.base_dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	scratch, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base dir %s is not writable: %w", dir, err)
	}
	_ = scratch.Close()
	if err := os.Remove(scratch.Name()); err != nil {
		return nil, fmt.Errorf("remove scratch file: %w", err)
	}
	return &BlobStore{baseDir: dir}, nil
}

// PutObject atomically writes data to a file under the base directory and
// returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	err = atomicfile.Write(fullPath, 0o644, func(w io.Writer) error {
		_, copyErr := io.Copy(w, data)
		return copyErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("file://%s", fullPath), nil
}

// GetObject opens a previously written object.
func (s *BlobStore) GetObject(_ context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath) //nolint:gosec // path validated by resolve
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

// resolve joins path onto the base directory and rejects traversal.
func (s *BlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath := filepath.Join(s.baseDir, path)
	cleanBaseDir := filepath.Clean(s.baseDir)
	cleanFullPath := filepath.Clean(fullPath)
	if !strings.HasPrefix(cleanFullPath, cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}
