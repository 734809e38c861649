package compaction

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/mnemolabs/mnemo/internal/archive"
	"github.com/mnemolabs/mnemo/internal/errors"
	"github.com/mnemolabs/mnemo/internal/eventlog"
	"github.com/mnemolabs/mnemo/pkg/types"
)

// Archiver copies cold daily files into the archive tree and writes the
// period summary. The summary file is the single source of truth for "this
// period is fully archived": its existence is checked before any work and
// its write is the last, atomic step. Deleting the originals is explicitly
// not the archiver's job; the orchestrator does that only after archiving
// reports success.
type Archiver struct {
	store archive.Storage
}

// NewArchiver creates an archiver over the given storage.
func NewArchiver(store archive.Storage) *Archiver {
	return &Archiver{store: store}
}

// IsArchived reports whether the period's summary artifact exists. Nothing
// else is consulted; a period with copied files but no summary is not
// archived and will be re-processed.
func (a *Archiver) IsArchived(ctx context.Context, period string) (bool, error) {
	if _, err := eventlog.ParsePeriod(period); err != nil {
		return false, errors.Wrap(errors.ErrCategoryCompaction, errors.CodeInvalidPeriod, "invalid period", err)
	}
	return a.store.Exists(ctx, SummaryObjectPath(period))
}

// ArchivePeriod copies the period's daily files into the archive and then
// writes the summary atomically. Files already present at the destination
// are skipped and not re-counted, so a partially archived period can be
// safely re-entered. Returns the number of files copied this call.
func (a *Archiver) ArchivePeriod(ctx context.Context, period string, sourceFiles []string, logDir string, summary *types.PeriodSummary) (int, error) {
	if _, err := eventlog.ParsePeriod(period); err != nil {
		return 0, errors.Wrap(errors.ErrCategoryCompaction, errors.CodeInvalidPeriod, "invalid period", err)
	}

	year := period[:4]
	copied := 0

	for _, name := range sourceFiles {
		objectPath := year + "/" + name

		exists, err := a.store.Exists(ctx, objectPath)
		if err != nil {
			return copied, errors.NewArchiveError(errors.CodeCopyFailed, "failed to check "+objectPath, err)
		}
		if exists {
			// Re-entry after a partial failure; the earlier copy stands.
			continue
		}

		if err := a.store.CopyIn(ctx, filepath.Join(logDir, name), objectPath); err != nil {
			return copied, errors.NewArchiveError(errors.CodeCopyFailed, "failed to copy "+name, err)
		}
		copied++
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return copied, errors.NewArchiveError(errors.CodeSummaryWrite, "failed to encode summary", err)
	}

	// The sentinel write commits the period. WriteAtomic guarantees the
	// summary file is either fully absent or fully valid.
	if err := a.store.WriteAtomic(ctx, SummaryObjectPath(period), data); err != nil {
		return copied, errors.NewArchiveError(errors.CodeSummaryWrite, "failed to write summary for "+period, err)
	}

	return copied, nil
}

// ReadSummary loads an archived period summary.
func (a *Archiver) ReadSummary(ctx context.Context, period string) (*types.PeriodSummary, error) {
	data, err := a.store.Read(ctx, SummaryObjectPath(period))
	if err != nil {
		return nil, errors.NewArchiveError(errors.CodeObjectMissing, "failed to read summary for "+period, err)
	}
	var summary types.PeriodSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, errors.NewArchiveError(errors.CodeObjectMissing, "failed to decode summary for "+period, err)
	}
	return &summary, nil
}
