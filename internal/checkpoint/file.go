// Package checkpoint records which crawl units have been durably completed.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hood-archiver/internal/atomicfile"
	"github.com/JakeFAU/hood-archiver/internal/crawler"
)

const snapshotVersion = 1

type snapshot struct {
	Version     int                         `json:"version"`
	UpdatedAt   time.Time                   `json:"updated_at"`
	Collections map[string]*collectionState `json:"collections"`
}

type collectionState struct {
	Complete       bool                 `json:"complete"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
	SubCollections map[string]time.Time `json:"sub_collections"`
}

// FileStore implements crawler.CheckpointStore with a JSON snapshot that is
// replaced atomically on every MarkComplete.
type FileStore struct {
	path   string
	clock  crawler.Clock
	logger *zap.Logger

	// encode serializes the snapshot; tests swap it to simulate a failed write.
	encode func(io.Writer, *snapshot) error

	mu    sync.Mutex
	state *snapshot
}

// NewFileStore builds a FileStore persisting to path.
func NewFileStore(path string, clock crawler.Clock, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		path:   path,
		clock:  clock,
		logger: logger,
		encode: encodeSnapshot,
		state:  emptySnapshot(),
	}
}

// Load reads the last durable snapshot. A missing file means every unit is pending.
func (s *FileStore) Load(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.state = emptySnapshot()
			s.logger.Debug("no checkpoint snapshot; starting fresh", zap.String("path", s.path))
			return nil
		}
		return fmt.Errorf("read checkpoint: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode checkpoint %s: %w", s.path, err)
	}
	snap.normalize()
	s.state = &snap
	s.logger.Info("checkpoint loaded",
		zap.String("path", s.path),
		zap.Int("collections", len(snap.Collections)),
		zap.Time("updated_at", snap.UpdatedAt),
	)
	return nil
}

// IsComplete reports whether the unit has been recorded as complete.
func (s *FileStore) IsComplete(_ context.Context, unit crawler.Unit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.state.Collections[unit.Collection]
	if !ok {
		return false, nil
	}
	if unit.IsCollection() {
		return state.Complete, nil
	}
	_, done := state.SubCollections[unit.SubCollection]
	return done, nil
}

// MarkComplete records the unit and durably replaces the snapshot. When the
// write fails the in-memory state is rolled back and the unit stays pending.
func (s *FileStore) MarkComplete(_ context.Context, unit crawler.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	next := s.state.clone()
	state, ok := next.Collections[unit.Collection]
	if !ok {
		state = &collectionState{SubCollections: make(map[string]time.Time)}
		next.Collections[unit.Collection] = state
	}
	if unit.IsCollection() {
		state.Complete = true
		state.CompletedAt = &now
	} else {
		state.SubCollections[unit.SubCollection] = now
	}
	next.UpdatedAt = now

	err := atomicfile.Write(s.path, 0o600, func(w io.Writer) error {
		return s.encode(w, next)
	})
	if err != nil {
		return &crawler.PersistenceError{Unit: unit, Op: "write checkpoint", Err: err}
	}
	s.state = next
	return nil
}

func emptySnapshot() *snapshot {
	return &snapshot{
		Version:     snapshotVersion,
		Collections: make(map[string]*collectionState),
	}
}

// normalize drops null collection entries and fills missing maps so lookups
// never dereference nil.
func (s *snapshot) normalize() {
	if s.Collections == nil {
		s.Collections = make(map[string]*collectionState)
	}
	for name, state := range s.Collections {
		if state == nil {
			delete(s.Collections, name)
			continue
		}
		if state.SubCollections == nil {
			state.SubCollections = make(map[string]time.Time)
		}
	}
}

func (s *snapshot) clone() *snapshot {
	out := &snapshot{
		Version:     snapshotVersion,
		UpdatedAt:   s.UpdatedAt,
		Collections: make(map[string]*collectionState, len(s.Collections)),
	}
	for name, state := range s.Collections {
		cp := &collectionState{
			Complete:       state.Complete,
			SubCollections: make(map[string]time.Time, len(state.SubCollections)),
		}
		if state.CompletedAt != nil {
			at := *state.CompletedAt
			cp.CompletedAt = &at
		}
		for sub, at := range state.SubCollections {
			cp.SubCollections[sub] = at
		}
		out.Collections[name] = cp
	}
	return out
}

func encodeSnapshot(w io.Writer, snap *snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return nil
}
