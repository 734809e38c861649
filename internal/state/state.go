// Package state manages the persistent assistant state document: a single
// JSON file holding identity, preferences, and accumulated knowledge. The
// event log records what happened; the state file records what is currently
// true. Writes are atomic so a crash never leaves a half-written document.
package state

import (
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mnemolabs/mnemo/internal/errors"
)

// FileName is the state document filename inside the data directory.
const FileName = "state.json"

// Document is the persistent state document.
type Document struct {
	Version        int                    `json:"version"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	Identity       map[string]interface{} `json:"identity,omitempty"`
	Prefs          map[string]interface{} `json:"preferences,omitempty"`
	Knowledge      map[string]interface{} `json:"knowledge,omitempty"`
	LastCompaction *CompactionRecord      `json:"lastCompaction,omitempty"`
}

// CompactionRecord summarizes the most recent compaction run, so the
// assistant knows when its log was last folded without opening the archive.
type CompactionRecord struct {
	RanAt            time.Time `json:"ranAt"`
	PeriodsProcessed int       `json:"periodsProcessed"`
	EventsArchived   int       `json:"eventsArchived"`
	Warnings         int       `json:"warnings"`
}

// CurrentVersion is written into new and saved documents.
const CurrentVersion = 1

// Store reads and writes the state document under a fixed directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on the
// first save, not here.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the full path of the state file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Load reads the state document. A missing file yields a fresh empty
// document rather than an error; a corrupt file falls back to the backup
// left by the previous successful save.
func (s *Store) Load() (*Document, error) {
	doc, err := readDocument(s.Path())
	if err == nil {
		return doc, nil
	}
	if stderrors.Is(err, os.ErrNotExist) {
		return &Document{Version: CurrentVersion}, nil
	}

	backup, backupErr := readDocument(s.Path() + ".bak")
	if backupErr == nil {
		return backup, nil
	}
	return nil, err
}

// Save writes the document atomically: the previous file is preserved as a
// .bak sibling, the new content goes to a temp file, and a rename commits
// it. Readers observe either the old document or the new one, never a mix.
func (s *Store) Save(doc *Document) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.NewStateError(errors.CodeStateSaveFailed, "failed to create state directory", err)
	}

	doc.Version = CurrentVersion
	doc.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.NewStateError(errors.CodeStateSaveFailed, "failed to encode state", err)
	}

	path := s.Path()
	if _, statErr := os.Stat(path); statErr == nil {
		// Best effort; the backup only matters if the main file later
		// turns out corrupt.
		if err := copyFile(path, path+".bak"); err != nil {
			return errors.NewStateError(errors.CodeStateSaveFailed, "failed to write state backup", err)
		}
	}

	tmp, err := os.CreateTemp(s.dir, ".state-*.tmp")
	if err != nil {
		return errors.NewStateError(errors.CodeStateSaveFailed, "failed to create temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewStateError(errors.CodeStateSaveFailed, "failed to write state", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewStateError(errors.CodeStateSaveFailed, "failed to sync state", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.NewStateError(errors.CodeStateSaveFailed, "failed to close temp file", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.NewStateError(errors.CodeStateSaveFailed, "failed to commit state", err)
	}
	return nil
}

func readDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewStateError(errors.CodeStateLoadFailed, "failed to read "+path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewStateError(errors.CodeStateLoadFailed, "failed to decode "+path, err)
	}
	return &doc, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
