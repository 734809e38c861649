package eventlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLog_AppendAssignsIDAndTimestamp(t *testing.T) {
	dir := t.TempDir()
	l := Open(dir)

	e := &Event{Type: TypeInteraction, SessionID: "s1"}
	if err := l.Append(e); err != nil {
		t.Fatalf("failed to append: %v", err)
	}

	if e.ID == "" {
		t.Errorf("expected an assigned ID")
	}
	if e.Timestamp.IsZero() {
		t.Errorf("expected an assigned timestamp")
	}

	name := FileForDate(e.Timestamp)
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Fatalf("expected daily file %s: %v", name, err)
	}
}

func TestLog_AppendRejectsUnknownType(t *testing.T) {
	l := Open(t.TempDir())

	err := l.Append(&Event{Type: "telemetry"})
	if err == nil {
		t.Fatalf("expected error for unknown event type")
	}
}

func TestLog_AppendRoutesByUTCDate(t *testing.T) {
	dir := t.TempDir()
	l := Open(dir)

	// A non-UTC timestamp must land in the file for its UTC date, not its
	// local date.
	loc := time.FixedZone("plus10", 10*3600)
	ts := time.Date(2025, 3, 1, 2, 30, 0, 0, loc) // 2025-02-28 16:30 UTC

	if err := l.Append(&Event{Type: TypeInteraction, Timestamp: ts}); err != nil {
		t.Fatalf("failed to append: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "events-2025-02-28.jsonl")); err != nil {
		t.Errorf("expected event in the UTC date's file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "events-2025-03-01.jsonl")); err == nil {
		t.Errorf("event must not land in the local date's file")
	}
}

func TestLog_ListFilesIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"events-2025-01-15.jsonl",
		"events-2025-01-02.jsonl",
		"index.db",
		"index.db-wal",
		"state.json",
		"events-notadate.jsonl",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatalf("failed to seed %s: %v", name, err)
		}
	}

	names, err := Open(dir).ListFiles()
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	want := []string{"events-2025-01-02.jsonl", "events-2025-01-15.jsonl"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, names[i], want[i])
		}
	}
}

func TestLog_ListFilesMissingDir(t *testing.T) {
	names, err := Open(filepath.Join(t.TempDir(), "nope")).ListFiles()
	if err != nil {
		t.Fatalf("missing directory must not be an error: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected no files, got %v", names)
	}
}

func TestLog_ReadFileSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	l := Open(dir)

	content := strings.Join([]string{
		`{"id":"a","timestamp":"2025-01-10T09:00:00Z","sessionId":"s1","type":"interaction"}`,
		`this is not json`,
		``,
		`{"id":"b","timestamp":"2025-01-10T10:00:00Z","sessionId":"s1","type":"error","data":{"error":"Timeout"}}`,
	}, "\n") + "\n"

	name := "events-2025-01-10.jsonl"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}

	events, err := l.ReadFile(name)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ID != "a" || events[1].ID != "b" {
		t.Errorf("unexpected event IDs: %s, %s", events[0].ID, events[1].ID)
	}
	if events[1].Data["error"] != "Timeout" {
		t.Errorf("data payload lost: %v", events[1].Data)
	}
}

func TestLog_ReadPeriod(t *testing.T) {
	dir := t.TempDir()
	l := Open(dir)

	for _, ts := range []time.Time{
		time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC),
	} {
		if err := l.Append(&Event{Type: TypeInteraction, Timestamp: ts}); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}

	events, err := l.ReadPeriod("2025-01")
	if err != nil {
		t.Fatalf("failed to read period: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events in 2025-01, got %d", len(events))
	}

	files, err := l.FilesForPeriod("2025-01")
	if err != nil {
		t.Fatalf("failed to list period files: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("expected 2 files in 2025-01, got %v", files)
	}

	if _, err := l.ReadPeriod("january"); err == nil {
		t.Errorf("expected error for invalid period key")
	}
}

func TestLog_Filter(t *testing.T) {
	dir := t.TempDir()
	l := Open(dir)

	seed := []*Event{
		{Type: TypeSessionStart, SessionID: "s1", Timestamp: time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC)},
		{Type: TypeSkillUsed, SessionID: "s1", Timestamp: time.Date(2025, 1, 5, 9, 5, 0, 0, time.UTC)},
		{Type: TypeSkillUsed, SessionID: "s2", Timestamp: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)},
		{Type: TypeSessionEnd, SessionID: "s1", Timestamp: time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)},
	}
	for _, e := range seed {
		if err := l.Append(e); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}

	byType, err := l.Filter(Query{Type: TypeSkillUsed})
	if err != nil {
		t.Fatalf("failed to filter: %v", err)
	}
	if len(byType) != 2 {
		t.Errorf("type filter: expected 2 events, got %d", len(byType))
	}

	bySession, err := l.Filter(Query{SessionID: "s1"})
	if err != nil {
		t.Fatalf("failed to filter: %v", err)
	}
	if len(bySession) != 3 {
		t.Errorf("session filter: expected 3 events, got %d", len(bySession))
	}

	byRange, err := l.Filter(Query{
		From: time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 1, 6, 23, 59, 59, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("failed to filter: %v", err)
	}
	if len(byRange) != 1 {
		t.Errorf("range filter: expected 1 event, got %d", len(byRange))
	}
}

func TestLog_RemoveIdempotent(t *testing.T) {
	dir := t.TempDir()
	l := Open(dir)

	name := "events-2025-01-10.jsonl"
	if err := os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0644); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}

	if err := l.Remove(name); err != nil {
		t.Fatalf("first remove failed: %v", err)
	}
	if err := l.Remove(name); err != nil {
		t.Fatalf("second remove must be a no-op: %v", err)
	}
}

func TestParseFileDate(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"events-2025-01-31.jsonl", true},
		{"events-2025-13-01.jsonl", false},
		{"events-2025-01-31.json", false},
		{"summary-2025-01.json", false},
		{"index.db", false},
	}
	for _, c := range cases {
		_, ok := ParseFileDate(c.name)
		if ok != c.ok {
			t.Errorf("ParseFileDate(%q) = %v, want %v", c.name, ok, c.ok)
		}
	}

	date, ok := ParseFileDate("events-2025-06-15.jsonl")
	if !ok {
		t.Fatalf("expected valid filename")
	}
	if PeriodOf(date) != "2025-06" {
		t.Errorf("PeriodOf = %s, want 2025-06", PeriodOf(date))
	}
}
