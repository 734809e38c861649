package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/mnemolabs/mnemo/internal/archive"
	"github.com/mnemolabs/mnemo/internal/bloom"
	"github.com/mnemolabs/mnemo/internal/errors"
	"github.com/mnemolabs/mnemo/internal/eventlog"
	"github.com/mnemolabs/mnemo/internal/index"
	"github.com/mnemolabs/mnemo/pkg/types"
)

const (
	// DefaultRetentionDays is the retention window: months whose latest day
	// is older than this are eligible for compaction.
	DefaultRetentionDays = 90

	// DefaultMaxPeriodsPerRun bounds how many periods one run touches, to
	// keep session-end latency predictable.
	DefaultMaxPeriodsPerRun = 3
)

// Options configures a compaction run.
type Options struct {
	// LogDir is the directory holding the daily JSONL files and index.db.
	LogDir string

	// ArchiveRoot is the root of the archive tree. Ignored when Store is set.
	ArchiveRoot string

	// RetentionDays is the retention window in days (default 90). Zero means
	// the default; use a negative value to force everything eligible.
	RetentionDays int

	// MaxPeriodsPerRun caps periods handled per run (default 3).
	MaxPeriodsPerRun int

	// Store overrides the archive storage, primarily for tests.
	Store archive.Storage

	// Mirror, when set, receives a best-effort copy of every archived object.
	Mirror *archive.Mirror

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Result is the aggregate outcome of one compaction run. It is always
// returned; per-period failures are recorded in Warnings rather than
// aborting the run.
type Result struct {
	PeriodsProcessed int      `json:"periodsProcessed"`
	PeriodsSkipped   int      `json:"periodsSkipped"`
	EventsArchived   int      `json:"eventsArchived"`
	SummariesCreated int      `json:"summariesCreated"`
	Warnings         []string `json:"warnings"`
}

func (r *Result) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// CompactEvents runs the compaction pipeline: detect eligible months, fold
// each into a summary, archive the raw files, update the index, and delete
// the originals. The returned error is non-nil only for unrecoverable setup
// failures (the archive or index cannot be created at all); everything else
// is reported through the result's warning list so callers branch on the
// outcome instead of unwinding.
func CompactEvents(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}

	retentionDays := opts.RetentionDays
	if retentionDays == 0 {
		retentionDays = DefaultRetentionDays
	}
	maxPeriods := opts.MaxPeriodsPerRun
	if maxPeriods <= 0 {
		maxPeriods = DefaultMaxPeriodsPerRun
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	store := opts.Store
	if store == nil {
		local, err := archive.NewLocal(opts.ArchiveRoot)
		if err != nil {
			return nil, errors.NewArchiveError(errors.CodeCopyFailed, "failed to open archive root", err)
		}
		store = local
	}

	idx, needsRebuild, err := index.Open(opts.LogDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := idx.Close(); closeErr != nil {
			log.Printf("compaction: failed to close index: %v", closeErr)
		}
	}()

	if needsRebuild {
		result.warnf("index was corrupt and has been recreated; rebuilding from log and archive")
		if err := idx.Rebuild(ctx, opts.LogDir, store); err != nil {
			// The index is an optimization; compaction proceeds without it.
			result.warnf("index rebuild failed: %v", err)
		}
	}

	cutoff := now().UTC().AddDate(0, 0, -retentionDays)
	periods, err := FindEligiblePeriods(opts.LogDir, cutoff)
	if err != nil {
		result.warnf("failed to detect eligible periods: %v", err)
		return result, nil
	}

	evlog := eventlog.Open(opts.LogDir)
	archiver := NewArchiver(store)

	for _, period := range periods {
		if result.PeriodsProcessed+result.PeriodsSkipped >= maxPeriods {
			break
		}
		processPeriod(ctx, period, evlog, archiver, idx, opts.Mirror, result)
	}

	return result, nil
}

// processPeriod handles a single eligible period. Every failure path records
// a warning and returns; one bad period never blocks the others.
func processPeriod(ctx context.Context, period string, evlog *eventlog.Log, archiver *Archiver, idx *index.Index, mirror *archive.Mirror, result *Result) {
	defer func() {
		if r := recover(); r != nil {
			result.warnf("period %s: panic during processing: %v", period, r)
		}
	}()

	archived, err := archiver.IsArchived(ctx, period)
	if err != nil {
		result.warnf("period %s: failed to check archive sentinel: %v", period, err)
		return
	}
	if archived {
		// Terminal state; there is no un-archive.
		result.PeriodsSkipped++
		return
	}

	events, err := evlog.ReadPeriod(period)
	if err != nil {
		result.warnf("period %s: failed to read events: %v", period, err)
		return
	}
	if len(events) == 0 {
		// Files existed but held nothing readable.
		result.PeriodsSkipped++
		return
	}

	sourceFiles, err := evlog.FilesForPeriod(period)
	if err != nil {
		result.warnf("period %s: failed to list source files: %v", period, err)
		return
	}

	summary, err := GeneratePeriodSummary(period, events)
	if err != nil {
		result.warnf("period %s: failed to summarize: %v", period, err)
		return
	}
	// The file list on disk is authoritative: it includes empty or fully
	// malformed files that contributed no events but must still be archived
	// and deleted with the period.
	summary.SourceFiles = sourceFiles

	filter := bloom.NewWithEstimates(len(events), 0.01)
	for _, e := range events {
		filter.Add(e.ID)
	}
	summary.EventFilter = filter.Serialize()

	filesArchived, err := archiver.ArchivePeriod(ctx, period, sourceFiles, evlog.Dir(), summary)
	if err != nil {
		// Originals stay intact; the period retries on the next run.
		result.warnf("period %s: archive failed: %v", period, err)
		return
	}

	// Index update comes after the archive write so the index never refers
	// to data that was not durably archived. Failures here leave the index
	// behind the archive, which Rebuild heals.
	if _, err := idx.RemoveForPeriod(ctx, period); err != nil {
		result.warnf("period %s: failed to drop index rows: %v", period, err)
	} else if err := idx.InsertSummary(ctx, summary); err != nil {
		result.warnf("period %s: failed to index summary: %v", period, err)
	}

	if mirror != nil {
		mirrorPeriod(ctx, period, sourceFiles, summary, evlog, mirror, result)
	}

	// Originals are deleted only now that the archive is durable. A failed
	// delete means the event is present in both places, never in neither.
	for _, name := range sourceFiles {
		if err := evlog.Remove(name); err != nil {
			result.warnf("period %s: failed to delete %s: %v", period, name, err)
		}
	}

	result.PeriodsProcessed++
	result.EventsArchived += len(events)
	result.SummariesCreated++
	log.Printf("compaction: archived period %s (%d events, %d files copied)", period, len(events), filesArchived)
}

// mirrorPeriod uploads the period's archived objects to the mirror, best
// effort. Runs before local deletion so the uploads can read the originals.
func mirrorPeriod(ctx context.Context, period string, sourceFiles []string, summary *types.PeriodSummary, evlog *eventlog.Log, mirror *archive.Mirror, result *Result) {
	year := period[:4]
	for _, name := range sourceFiles {
		if err := mirror.Upload(ctx, evlog.Path(name), year+"/"+name); err != nil {
			result.warnf("period %s: mirror upload of %s failed: %v", period, name, err)
		}
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		result.warnf("period %s: failed to encode summary for mirror: %v", period, err)
		return
	}
	if err := mirror.UploadBytes(ctx, data, SummaryObjectPath(period)); err != nil {
		result.warnf("period %s: mirror upload of summary failed: %v", period, err)
	}
}
