package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// DiskStore writes records as JSON files, one per run.
type DiskStore struct {
	mu    sync.Mutex
	dir   string
	owned bool // dir was created by the store and is removed by Close
}

// NewDiskStore creates a DiskStore rooted at dir. With an empty dir a
// temp directory is created lazily on first use and removed by Close.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// Save writes a record as a JSON file to disk.
func (s *DiskStore) Save(rec *Record) error {
	if err := checkID(rec.ID); err != nil {
		return err
	}
	dir, err := s.ensureDir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, rec.ID+".json")
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling run %s: %w", rec.ID, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing run %s: %w", rec.ID, err)
	}
	return nil
}

// Load reads a record from disk. It never creates the store directory.
func (s *DiskStore) Load(runID string) (*Record, error) {
	if err := checkID(runID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	dir := s.dir
	s.mu.Unlock()
	if dir == "" {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	data, err := os.ReadFile(filepath.Join(dir, runID+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshalling run %s: %w", runID, err)
	}
	return &rec, nil
}

// checkID accepts only uuids, which keeps callers from naming files
// outside the store directory.
func checkID(runID string) error {
	if _, err := uuid.Parse(runID); err != nil {
		return fmt.Errorf("run %q: %w", runID, ErrNotFound)
	}
	return nil
}

func (s *DiskStore) ensureDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return "", fmt.Errorf("creating run directory: %w", err)
		}
		return s.dir, nil
	}
	dir, err := os.MkdirTemp("", "ccxmcp-runs-*")
	if err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	s.dir, s.owned = dir, true
	return dir, nil
}

// Close removes the temp directory created by the store, with every
// record in it. A directory passed to NewDiskStore is left alone. The
// store may be used again after Close.
func (s *DiskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.owned {
		return nil
	}
	dir := s.dir
	s.dir, s.owned = "", false
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing run directory: %w", err)
	}
	return nil
}
