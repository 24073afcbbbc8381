// Package jsonstore persists instance records as a single versioned JSON
// snapshot on disk. The snapshot is read once at startup and rewritten
// atomically (write-to-temp-then-rename) whenever identity-relevant fields
// change.
package jsonstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Strob0t/ClawDeck/internal/domain/instance"
)

// snapshotVersion is bumped when the snapshot layout changes.
const snapshotVersion = 1

// snapshot is the on-disk document.
type snapshot struct {
	Version   int                 `json:"version"`
	Instances []instance.Instance `json:"instances"`
}

// Store reads and writes the instance snapshot at a fixed path.
type Store struct {
	path string
}

// New creates a Store writing to path. Parent directories are created on
// first save.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the snapshot. A missing file yields an empty slice; a corrupt
// file is an error so the operator can decide, not silently discarded.
func (s *Store) Load() ([]instance.Instance, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", s.path, err)
	}
	return snap.Instances, nil
}

// Save atomically replaces the snapshot with the given records.
func (s *Store) Save(instances []instance.Instance) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	data, err := json.MarshalIndent(snapshot{
		Version:   snapshotVersion,
		Instances: instances,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
