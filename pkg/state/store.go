package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/replicate/rget/pkg/logging"
)

// Store persists a Record to a sidecar file. Saves are serialised, and each one replaces the
// file atomically so a crash leaves either the previous or the new record on disk.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted record, or nil when there is nothing usable to resume from.
// A sidecar from a newer version of rget is treated as absent.
func (s *Store) Load() *Record {
	logger := logging.GetLogger()
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn().Err(err).Str("sidecar", s.path).Msg("Ignoring unreadable progress record")
		}
		return nil
	}

	var header struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		logger.Warn().Err(err).Str("sidecar", s.path).Msg("Ignoring malformed progress record")
		return nil
	}
	if header.Version != CurrentVersion {
		logger.Info().Int("version", header.Version).Str("sidecar", s.path).Msg("Ignoring progress record with unknown version")
		return nil
	}

	record := &Record{}
	if err := json.Unmarshal(data, record); err != nil {
		logger.Warn().Err(err).Str("sidecar", s.path).Msg("Ignoring malformed progress record")
		return nil
	}
	sum, err := checksum(record)
	if err != nil || sum != record.Checksum {
		logger.Warn().Str("sidecar", s.path).Msg("Ignoring progress record with bad checksum")
		return nil
	}
	if err := record.Validate(); err != nil {
		logger.Warn().Err(err).Str("sidecar", s.path).Msg("Ignoring progress record")
		return nil
	}
	return record
}

// Save writes r to a temporary file next to the sidecar, syncs it and renames it into place.
func (s *Store) Save(r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := *r
	record.Version = CurrentVersion
	sum, err := checksum(&record)
	if err != nil {
		return fmt.Errorf("failed to checksum progress record: %w", err)
	}
	record.Checksum = sum
	data, err := json.MarshalIndent(&record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode progress record: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return SyncDir(dir)
}

// Clear removes the sidecar. Removing a missing sidecar is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// SyncDir flushes directory entries so a rename survives a crash.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) {
		return err
	}
	return nil
}

func checksum(r *Record) (uint64, error) {
	return hashstructure.Hash(r, hashstructure.FormatV2, nil)
}
