package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"dicom-indexer/internal/logging"
)

// Sentinel errors for index persistence.
var (
	// ErrNotBuilt indicates no index file exists yet. Callers should prompt
	// for indexing rather than treating this as an empty result.
	ErrNotBuilt = errors.New("index not built")

	// ErrCorrupt indicates the index file exists but cannot be parsed.
	ErrCorrupt = errors.New("index file corrupt")
)

// Store reads and writes the persisted index file for one store root.
// Saves are atomic: the document is written to a temp file in the same
// directory and renamed over the previous index.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a Store for the given index file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the index file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether an index file is present on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads and parses the persisted index.
// Returns ErrNotBuilt when the file does not exist and ErrCorrupt when it
// exists but cannot be parsed.
func (s *Store) Load() (*Index, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", s.path, ErrNotBuilt)
		}
		return nil, fmt.Errorf("read index %s: %w", s.path, err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", s.path, err, ErrCorrupt)
	}
	return &idx, nil
}

// Save atomically replaces the index file with the given document.
// A crash at any point leaves either the previous or the new complete file.
func (s *Store) Save(idx *Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		if removeErr := os.Remove(tmpName); removeErr != nil && !os.IsNotExist(removeErr) {
			logging.Warn("Failed to remove temp index %s: %v", tmpName, removeErr)
		}
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp index: %w", err)
	}

	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp index: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace index: %w", err)
	}

	logging.Debug("Index saved: %d series -> %s", len(idx.Series), s.path)
	return nil
}
