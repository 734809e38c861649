package compaction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnemolabs/mnemo/internal/archive"
	"github.com/mnemolabs/mnemo/internal/eventlog"
	"github.com/mnemolabs/mnemo/internal/index"
)

// fixedNow keeps every orchestrator test on the same clock: daily files from
// August 2025 are well past the default retention window.
func fixedNow() time.Time {
	return time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC)
}

func seedEvents(t *testing.T, logDir string, events ...*eventlog.Event) {
	t.Helper()
	l := eventlog.Open(logDir)
	for _, e := range events {
		if err := l.Append(e); err != nil {
			t.Fatalf("failed to seed event: %v", err)
		}
	}
}

func augustEvents() []*eventlog.Event {
	return []*eventlog.Event{
		{ID: "a1", Timestamp: time.Date(2025, 8, 3, 9, 0, 0, 0, time.UTC), SessionID: "s1", Type: eventlog.TypeSessionStart},
		{ID: "a2", Timestamp: time.Date(2025, 8, 3, 9, 5, 0, 0, time.UTC), SessionID: "s1", Type: eventlog.TypeSkillUsed, Data: map[string]interface{}{"skill": "calendar"}},
		{ID: "a3", Timestamp: time.Date(2025, 8, 3, 9, 30, 0, 0, time.UTC), SessionID: "s1", Type: eventlog.TypeSessionEnd},
		{ID: "a4", Timestamp: time.Date(2025, 8, 20, 15, 0, 0, 0, time.UTC), SessionID: "s2", Type: eventlog.TypeError, Data: map[string]interface{}{"error": "Timeout"}},
		{ID: "a5", Timestamp: time.Date(2025, 8, 20, 15, 1, 0, 0, time.UTC), SessionID: "s2", Type: eventlog.TypeInteraction},
	}
}

func TestCompactEvents_ArchivesColdPeriod(t *testing.T) {
	ctx := context.Background()
	logDir := t.TempDir()
	seedEvents(t, logDir, augustEvents()...)

	store := archive.NewMemory()
	result, err := CompactEvents(ctx, Options{
		LogDir: logDir,
		Store:  store,
		Now:    fixedNow,
	})
	if err != nil {
		t.Fatalf("compaction failed: %v", err)
	}

	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}
	if result.PeriodsProcessed != 1 || result.PeriodsSkipped != 0 {
		t.Errorf("processed=%d skipped=%d, want 1/0", result.PeriodsProcessed, result.PeriodsSkipped)
	}
	if result.EventsArchived != 5 || result.SummariesCreated != 1 {
		t.Errorf("events=%d summaries=%d, want 5/1", result.EventsArchived, result.SummariesCreated)
	}

	// Originals deleted, archive holds copies plus the sentinel.
	for _, name := range []string{"events-2025-08-03.jsonl", "events-2025-08-20.jsonl"} {
		if _, err := os.Stat(filepath.Join(logDir, name)); !os.IsNotExist(err) {
			t.Errorf("source %s must be deleted after archiving", name)
		}
	}
	for _, object := range []string{
		"2025/events-2025-08-03.jsonl",
		"2025/events-2025-08-20.jsonl",
		"2025/summary-2025-08.json",
	} {
		exists, err := store.Exists(ctx, object)
		if err != nil {
			t.Fatalf("exists check failed: %v", err)
		}
		if !exists {
			t.Errorf("archive missing %s", object)
		}
	}

	summary, err := NewArchiver(store).ReadSummary(ctx, "2025-08")
	if err != nil {
		t.Fatalf("failed to read summary: %v", err)
	}
	if summary.EventCount != 5 {
		t.Errorf("summary eventCount = %d, want 5", summary.EventCount)
	}
	if len(summary.SourceFiles) != 2 {
		t.Errorf("summary sourceFiles = %v", summary.SourceFiles)
	}
	if summary.EventFilter == nil {
		t.Fatalf("summary must embed an event filter")
	}

	// The summary landed in the index too.
	idx, _, err := index.Open(logDir)
	if err != nil {
		t.Fatalf("failed to reopen index: %v", err)
	}
	defer idx.Close()
	summaries, err := idx.QuerySummaries(ctx, "2025-08")
	if err != nil {
		t.Fatalf("failed to query summaries: %v", err)
	}
	if len(summaries) != 1 {
		t.Errorf("expected the summary in the index, got %d", len(summaries))
	}
}

func TestCompactEvents_RerunSkipsArchivedPeriod(t *testing.T) {
	ctx := context.Background()
	logDir := t.TempDir()
	seedEvents(t, logDir, augustEvents()...)

	store := archive.NewMemory()
	opts := Options{LogDir: logDir, Store: store, Now: fixedNow}

	if _, err := CompactEvents(ctx, opts); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// Simulate a crash after archiving but before deletion: one daily file
	// is back on disk while the sentinel already exists.
	seedEvents(t, logDir, &eventlog.Event{
		ID:        "a1",
		Timestamp: time.Date(2025, 8, 3, 9, 0, 0, 0, time.UTC),
		SessionID: "s1",
		Type:      eventlog.TypeSessionStart,
	})

	result, err := CompactEvents(ctx, opts)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if result.PeriodsProcessed != 0 || result.PeriodsSkipped != 1 {
		t.Errorf("processed=%d skipped=%d, want 0/1", result.PeriodsProcessed, result.PeriodsSkipped)
	}
	if result.EventsArchived != 0 || result.SummariesCreated != 0 {
		t.Errorf("rerun must not archive again: %+v", result)
	}
}

func TestCompactEvents_BoundedWorkPerRun(t *testing.T) {
	ctx := context.Background()
	logDir := t.TempDir()

	// Six cold months, one event each.
	for month := 1; month <= 6; month++ {
		seedEvents(t, logDir, &eventlog.Event{
			ID:        fmt.Sprintf("m%d", month),
			Timestamp: time.Date(2025, time.Month(month), 10, 9, 0, 0, 0, time.UTC),
			SessionID: "s1",
			Type:      eventlog.TypeInteraction,
		})
	}

	store := archive.NewMemory()
	result, err := CompactEvents(ctx, Options{LogDir: logDir, Store: store, Now: fixedNow})
	if err != nil {
		t.Fatalf("compaction failed: %v", err)
	}

	if result.PeriodsProcessed != 3 {
		t.Errorf("processed = %d, want the default cap of 3", result.PeriodsProcessed)
	}

	// Oldest periods go first; the newest three wait for the next run.
	for month := 1; month <= 3; month++ {
		name := fmt.Sprintf("events-2025-%02d-10.jsonl", month)
		if _, err := os.Stat(filepath.Join(logDir, name)); !os.IsNotExist(err) {
			t.Errorf("%s should be archived and deleted", name)
		}
	}
	for month := 4; month <= 6; month++ {
		name := fmt.Sprintf("events-2025-%02d-10.jsonl", month)
		if _, err := os.Stat(filepath.Join(logDir, name)); err != nil {
			t.Errorf("%s should remain for a later run: %v", name, err)
		}
	}

	// The next run picks up the rest.
	second, err := CompactEvents(ctx, Options{LogDir: logDir, Store: store, Now: fixedNow})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.PeriodsProcessed != 3 {
		t.Errorf("second run processed = %d, want 3", second.PeriodsProcessed)
	}
}

func TestCompactEvents_ArchiveFailureLeavesOriginals(t *testing.T) {
	ctx := context.Background()
	logDir := t.TempDir()
	seedEvents(t, logDir, augustEvents()...)

	store := archive.NewMemory()
	boom := errors.New("disk full")
	store.FailNext = func(op, objectPath string) error {
		if op == "write" {
			return boom
		}
		return nil
	}

	opts := Options{LogDir: logDir, Store: store, Now: fixedNow}
	result, err := CompactEvents(ctx, opts)
	if err != nil {
		t.Fatalf("run must not fail hard on a period error: %v", err)
	}

	if result.PeriodsProcessed != 0 {
		t.Errorf("processed = %d, want 0", result.PeriodsProcessed)
	}
	if len(result.Warnings) == 0 {
		t.Fatalf("expected a warning for the failed archive")
	}

	// Nothing was deleted; the period retries cleanly once storage recovers.
	for _, name := range []string{"events-2025-08-03.jsonl", "events-2025-08-20.jsonl"} {
		if _, err := os.Stat(filepath.Join(logDir, name)); err != nil {
			t.Errorf("source %s must survive the failed run: %v", name, err)
		}
	}

	store.FailNext = nil
	retry, err := CompactEvents(ctx, opts)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retry.PeriodsProcessed != 1 || retry.EventsArchived != 5 {
		t.Errorf("retry: processed=%d events=%d, want 1/5", retry.PeriodsProcessed, retry.EventsArchived)
	}
	if len(retry.Warnings) != 0 {
		t.Errorf("retry warnings: %v", retry.Warnings)
	}
}

func TestCompactEvents_PeriodWithOnlyMalformedLinesIsSkipped(t *testing.T) {
	ctx := context.Background()
	logDir := t.TempDir()

	name := "events-2025-08-03.jsonl"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(logDir, name), []byte("garbage\nmore garbage\n"), 0644); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}

	result, err := CompactEvents(ctx, Options{LogDir: logDir, Store: archive.NewMemory(), Now: fixedNow})
	if err != nil {
		t.Fatalf("compaction failed: %v", err)
	}
	if result.PeriodsProcessed != 0 || result.PeriodsSkipped != 1 {
		t.Errorf("processed=%d skipped=%d, want 0/1", result.PeriodsProcessed, result.PeriodsSkipped)
	}
	// The unreadable file is left in place for inspection.
	if _, err := os.Stat(filepath.Join(logDir, name)); err != nil {
		t.Errorf("skipped period's file must remain: %v", err)
	}
}

func TestCompactEvents_RecentPeriodNotTouched(t *testing.T) {
	ctx := context.Background()
	logDir := t.TempDir()

	// November is within the 90-day window of the fixed clock.
	seedEvents(t, logDir, &eventlog.Event{
		ID:        "recent",
		Timestamp: time.Date(2025, 11, 20, 9, 0, 0, 0, time.UTC),
		SessionID: "s1",
		Type:      eventlog.TypeInteraction,
	})

	result, err := CompactEvents(ctx, Options{LogDir: logDir, Store: archive.NewMemory(), Now: fixedNow})
	if err != nil {
		t.Fatalf("compaction failed: %v", err)
	}
	if result.PeriodsProcessed != 0 || result.PeriodsSkipped != 0 {
		t.Errorf("recent period must be ignored entirely: %+v", result)
	}
	if _, err := os.Stat(filepath.Join(logDir, "events-2025-11-20.jsonl")); err != nil {
		t.Errorf("recent file must remain: %v", err)
	}
}

func TestCompactEvents_CorruptIndexIsRebuilt(t *testing.T) {
	ctx := context.Background()
	logDir := t.TempDir()
	seedEvents(t, logDir, augustEvents()...)

	if err := os.WriteFile(filepath.Join(logDir, index.DBFileName), []byte("not a database"), 0644); err != nil {
		t.Fatalf("failed to plant corrupt index: %v", err)
	}

	store := archive.NewMemory()
	result, err := CompactEvents(ctx, Options{LogDir: logDir, Store: store, Now: fixedNow})
	if err != nil {
		t.Fatalf("compaction must survive a corrupt index: %v", err)
	}

	// One warning for the recreation, and compaction still went through.
	if len(result.Warnings) == 0 {
		t.Errorf("expected a rebuild warning")
	}
	if result.PeriodsProcessed != 1 {
		t.Errorf("processed = %d, want 1", result.PeriodsProcessed)
	}

	exists, err := store.Exists(ctx, "2025/summary-2025-08.json")
	if err != nil {
		t.Fatalf("exists check failed: %v", err)
	}
	if !exists {
		t.Errorf("summary missing after rebuild path")
	}
}
