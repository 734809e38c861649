package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStore_LoadMissingReturnsFreshDocument(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent"))

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("missing state must not be an error: %v", err)
	}
	if doc.Version != CurrentVersion {
		t.Errorf("version = %d, want %d", doc.Version, CurrentVersion)
	}
	if !doc.UpdatedAt.IsZero() {
		t.Errorf("fresh document must have no update time")
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	doc := &Document{
		Identity:  map[string]interface{}{"name": "mnemo"},
		Prefs:     map[string]interface{}{"tone": "concise"},
		Knowledge: map[string]interface{}{"timezone": "UTC"},
	}
	if err := s.Save(doc); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if doc.UpdatedAt.IsZero() {
		t.Errorf("save must stamp UpdatedAt")
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Identity["name"] != "mnemo" || loaded.Prefs["tone"] != "concise" {
		t.Errorf("round trip lost data: %+v", loaded)
	}
	if loaded.Version != CurrentVersion {
		t.Errorf("version = %d", loaded.Version)
	}
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	if err := s.Save(&Document{}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.Save(&Document{}); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	for _, e := range entries {
		name := e.Name()
		if name != FileName && name != FileName+".bak" {
			t.Errorf("unexpected leftover file %s", name)
		}
	}
}

func TestStore_CorruptFileFallsBackToBackup(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	if err := s.Save(&Document{Identity: map[string]interface{}{"name": "first"}}); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := s.Save(&Document{Identity: map[string]interface{}{"name": "second"}}); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	// Corrupt the live file; the backup holds the first document.
	if err := os.WriteFile(s.Path(), []byte("{truncated"), 0644); err != nil {
		t.Fatalf("failed to corrupt state: %v", err)
	}

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("load must fall back to the backup: %v", err)
	}
	if doc.Identity["name"] != "first" {
		t.Errorf("loaded %v, want the backup document", doc.Identity)
	}
}

func TestStore_CorruptFileWithoutBackupFails(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	if err := os.WriteFile(s.Path(), []byte("{truncated"), 0644); err != nil {
		t.Fatalf("failed to plant corrupt state: %v", err)
	}

	if _, err := s.Load(); err == nil {
		t.Fatalf("expected an error when both file and backup are unusable")
	}
}
