// Package document persists per-collection JSON documents and the staged
// sub-collection documents that back resumed runs.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/hood-archiver/internal/atomicfile"
	"github.com/JakeFAU/hood-archiver/internal/crawler"
)

const (
	docExt     = ".json"
	partialDir = ".partial"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// FileStore implements crawler.DocumentStore on the local filesystem. Every
// write is atomic, so a document is either absent or complete.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{dir: dir, logger: logger}
}

// Dir returns the output directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Prepare creates the output directory and confirms it accepts writes.
func (s *FileStore) Prepare() error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	scratch, err := os.CreateTemp(s.dir, ".writable-*")
	if err != nil {
		return fmt.Errorf("output dir %s is not writable: %w", s.dir, err)
	}
	name := scratch.Name()
	if err := scratch.Close(); err != nil {
		return fmt.Errorf("close scratch file: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("remove scratch file: %w", err)
	}
	return nil
}

// WriteCollection writes <dir>/<name>.json.
func (s *FileStore) WriteCollection(_ context.Context, doc crawler.Collection) error {
	path := s.collectionPath(doc.Name)
	if err := writeJSON(path, doc); err != nil {
		return fmt.Errorf("write collection %s: %w", doc.Name, err)
	}
	s.logger.Info("saved collection document", zap.String("path", path))
	return nil
}

// ReadCollection loads a collection document.
func (s *FileStore) ReadCollection(_ context.Context, name string) (crawler.Collection, error) {
	var doc crawler.Collection
	if err := readJSON(s.collectionPath(name), &doc); err != nil {
		return crawler.Collection{}, fmt.Errorf("read collection %s: %w", name, err)
	}
	return doc, nil
}

// WriteSubCollection stages a finished burb under <dir>/.partial/<collection>/.
func (s *FileStore) WriteSubCollection(_ context.Context, collection string, sub crawler.SubCollection) error {
	path := s.subCollectionPath(collection, sub.Name)
	if err := writeJSON(path, sub); err != nil {
		return fmt.Errorf("write sub-collection %s/%s: %w", collection, sub.Name, err)
	}
	s.logger.Debug("staged sub-collection document", zap.String("path", path))
	return nil
}

// ReadSubCollection loads a staged burb document.
func (s *FileStore) ReadSubCollection(_ context.Context, collection, name string) (crawler.SubCollection, error) {
	var sub crawler.SubCollection
	if err := readJSON(s.subCollectionPath(collection, name), &sub); err != nil {
		return crawler.SubCollection{}, fmt.Errorf("read sub-collection %s/%s: %w", collection, name, err)
	}
	return sub, nil
}

// LoadAll reads every collection document in dir. Documents named in order
// come first in that order; the rest follow sorted by name.
func (s *FileStore) LoadAll(ctx context.Context, order []string) ([]crawler.Collection, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	present := make(map[string]struct{})
	for _, entry := range entries {
		name := entry.Name()
		// Dotfiles hold the checkpoint snapshot; temp files never end in .json.
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, docExt) {
			continue
		}
		decoded, err := url.PathUnescape(strings.TrimSuffix(name, docExt))
		if err != nil {
			s.logger.Warn("skipping document with undecodable name", zap.String("file", name))
			continue
		}
		present[decoded] = struct{}{}
	}

	names := make([]string, 0, len(present))
	for _, name := range order {
		if _, ok := present[name]; ok {
			names = append(names, name)
			delete(present, name)
		}
	}
	extras := make([]string, 0, len(present))
	for name := range present {
		extras = append(extras, name)
	}
	sort.Strings(extras)
	names = append(names, extras...)

	docs := make([]crawler.Collection, 0, len(names))
	for _, name := range names {
		doc, err := s.ReadCollection(ctx, name)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *FileStore) collectionPath(name string) string {
	return filepath.Join(s.dir, url.PathEscape(name)+docExt)
}

func (s *FileStore) subCollectionPath(collection, name string) string {
	return filepath.Join(s.dir, partialDir, url.PathEscape(collection), url.PathEscape(name)+docExt)
}

func writeJSON(path string, v any) error {
	return atomicfile.Write(path, 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path) //nolint:gosec // path built from the output dir
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
