// Package fleet holds the last successfully discovered fleet and persists it
// as a JSON array so a restart can resume polling without rediscovery.
package fleet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"argus/internal/models"
)

// Reader is the read side used by the session poller.
type Reader interface {
	Current() models.Fleet
}

// Writer is the write side used by discovery.
type Writer interface {
	Replace(f models.Fleet) error
}

type Store struct {
	path string

	writeMu sync.Mutex
	current atomic.Pointer[models.Fleet]
}

// Open loads the fleet persisted at path. A missing file yields an empty fleet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	f, err := load(path)
	if err != nil {
		return nil, err
	}
	s.current.Store(&f)
	return s, nil
}

// Current returns a copy of the latest complete fleet.
func (s *Store) Current() models.Fleet {
	return (*s.current.Load()).Clone()
}

// Replace persists f and then makes it the current fleet. Concurrent readers
// see either the previous fleet or f, never a mix. If persisting fails the
// current fleet is left unchanged.
func (s *Store) Replace(f models.Fleet) error {
	snapshot := f.Clone()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := save(s.path, snapshot); err != nil {
		return fmt.Errorf("persisting fleet: %w", err)
	}
	s.current.Store(&snapshot)
	return nil
}

func (s *Store) Path() string { return s.path }

func load(path string) (models.Fleet, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return models.Fleet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading fleet file: %w", err)
	}
	var f models.Fleet
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fleet file %s: %w", path, err)
	}
	if f == nil {
		f = models.Fleet{}
	}
	return f, nil
}

func save(path string, f models.Fleet) error {
	data, err := json.MarshalIndent(f, "", "    ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating fleet dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing fleet: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing fleet: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
