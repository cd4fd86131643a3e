// Package state persists the source filename to content digest mapping that
// makes repeated runs idempotent.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"photo-derivatives-go/internal/hasher"
)

// DefaultFileName is the state file name inside the output directory.
const DefaultFileName = ".processed-hashes.json"

// ErrCorruptState is returned by Read when the state file cannot be parsed.
var ErrCorruptState = errors.New("corrupt state file")

// Mapping maps a source filename to the digest recorded for it.
type Mapping map[string]hasher.Digest

// Store reads and writes the mapping as a flat JSON object.
type Store struct {
	path   string
	logger *logrus.Logger
}

// NewStore creates a Store backed by the file at path.
func NewStore(path string, logger *logrus.Logger) *Store {
	return &Store{
		path:   filepath.Clean(path),
		logger: logger,
	}
}

// Path returns the location of the state file.
func (s *Store) Path() string {
	return s.path
}

// Read returns the persisted mapping. A missing or empty file yields an empty
// mapping; an unparseable file yields ErrCorruptState.
func (s *Store) Read() (Mapping, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Mapping{}, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if len(data) == 0 {
		return Mapping{}, nil
	}

	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if m == nil {
		// "null" decodes without error
		return Mapping{}, nil
	}
	return m, nil
}

// Load returns the persisted mapping and never fails: any read or parse error
// is logged as a warning and an empty mapping is returned, so every file is
// reprocessed.
func (s *Store) Load() Mapping {
	m, err := s.Read()
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"file":  s.path,
			"error": err.Error(),
		}).Warn("Could not load state file, all images will be reprocessed")
		return Mapping{}
	}
	return m
}

// Save replaces the persisted mapping with m. The content is written to a
// temporary file in the same directory and renamed over the state file.
func (s *Store) Save(m Mapping) error {
	if m == nil {
		m = Mapping{}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace state file: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"file":    s.path,
		"entries": len(m),
	}).Debug("State file saved")
	return nil
}

// NeedsProcessing reports whether filename is absent from prior or recorded
// with a different digest. Renames are not detected.
func NeedsProcessing(filename string, current hasher.Digest, prior Mapping) bool {
	stored, ok := prior[filename]
	return !ok || stored != current
}
