package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mnemolabs/mnemo/internal/archive"
	"github.com/mnemolabs/mnemo/internal/errors"
	"github.com/mnemolabs/mnemo/internal/eventlog"
	"github.com/mnemolabs/mnemo/pkg/types"
)

// DBFileName is the index database filename inside the log directory.
const DBFileName = "index.db"

// Index is the embedded secondary index handle. A single write connection
// (WAL mode, one writer) takes compaction updates while a small read pool
// serves active-window queries concurrently.
type Index struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
}

// Open opens (or creates) the index database under logDir. If the existing
// database cannot be opened or its schema cannot be initialized, it is
// deleted and recreated from scratch; the second return value is then true,
// signalling that the caller should run Rebuild to repopulate it.
func Open(logDir string) (*Index, bool, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, false, errors.NewIndexError(errors.CodeIndexOpenFailed, "failed to create log directory", err)
	}
	dbPath := filepath.Join(logDir, DBFileName)

	idx, err := openAt(dbPath)
	if err == nil {
		return idx, false, nil
	}

	// The index is derived and disposable: delete the damaged database
	// (including WAL sidecars) and start over.
	log.Printf("index: open failed (%v), recreating %s", err, dbPath)
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, false, errors.Wrap(errors.ErrCategoryIndex, errors.CodeIndexCorrupt,
				"failed to remove corrupt index", rmErr)
		}
	}

	idx, err = openAt(dbPath)
	if err != nil {
		return nil, false, errors.NewIndexError(errors.CodeIndexOpenFailed, "failed to recreate index", err)
	}
	return idx, true, nil
}

// openAt opens the database at dbPath and initializes the schema.
func openAt(dbPath string) (*Index, error) {
	// Write connection: single writer with WAL mode so readers are never
	// blocked by compaction writes.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range allSchemaSQL() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, err
		}
	}

	// Read connection pool: concurrent readers via read-only mode.
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, err
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	if err := readDB.Ping(); err != nil {
		readDB.Close()
		db.Close()
		return nil, err
	}

	return &Index{db: db, readDB: readDB, dbPath: dbPath}, nil
}

// Close closes both database connections.
func (i *Index) Close() error {
	if err := i.readDB.Close(); err != nil {
		i.db.Close()
		return err
	}
	return i.db.Close()
}

// IndexEvents inserts (or replaces) the thin projection of the given events.
func (i *Index) IndexEvents(ctx context.Context, events []*eventlog.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewIndexError(errors.CodeIndexOpenFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := insertEventsTx(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit()
}

// insertEventsTx inserts event projections within an existing transaction.
func insertEventsTx(ctx context.Context, tx *sql.Tx, events []*eventlog.Event) error {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO events (id, ts, session_id, event_type) VALUES (?, ?, ?, ?)")
	if err != nil {
		return errors.NewIndexError(errors.CodeIndexOpenFailed, "failed to prepare insert", err)
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.ExecContext(ctx, e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano), e.SessionID, string(e.Type))
		if err != nil {
			return errors.NewIndexError(errors.CodeIndexOpenFailed, "failed to insert event "+e.ID, err)
		}
	}
	return nil
}

// RemoveForPeriod deletes the event rows belonging to the given calendar
// month and returns how many were removed. Timestamps are stored as RFC 3339
// UTC strings, so month boundaries are plain lexicographic range bounds.
func (i *Index) RemoveForPeriod(ctx context.Context, period string) (int64, error) {
	start, err := eventlog.ParsePeriod(period)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCategoryIndex, errors.CodeInvalidPeriod, "invalid period", err)
	}
	end := start.AddDate(0, 1, 0)

	result, err := i.db.ExecContext(ctx,
		"DELETE FROM events WHERE ts >= ? AND ts < ?",
		start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
	if err != nil {
		return 0, errors.NewIndexError(errors.CodeIndexOpenFailed, "failed to remove rows for "+period, err)
	}
	removed, _ := result.RowsAffected()
	return removed, nil
}

// InsertSummary stores the full serialized summary, keyed by period. The
// blob is snappy-compressed JSON; the archive keeps the readable copy.
func (i *Index) InsertSummary(ctx context.Context, summary *types.PeriodSummary) error {
	blob, err := encodeSummary(summary)
	if err != nil {
		return err
	}

	_, err = i.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO summaries (period, summary_id, created_at, data) VALUES (?, ?, ?, ?)",
		summary.Period, summary.ID, summary.CreatedAt.Unix(), blob)
	if err != nil {
		return errors.NewIndexError(errors.CodeIndexOpenFailed, "failed to insert summary for "+summary.Period, err)
	}
	return nil
}

// QuerySummaries returns stored summaries, all of them when period is empty,
// ordered by period ascending.
func (i *Index) QuerySummaries(ctx context.Context, period string) ([]*types.PeriodSummary, error) {
	query := "SELECT data FROM summaries ORDER BY period"
	args := []interface{}{}
	if period != "" {
		query = "SELECT data FROM summaries WHERE period = ?"
		args = append(args, period)
	}

	rows, err := i.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewIndexError(errors.CodeReadFailed, "failed to query summaries", err)
	}
	defer rows.Close()

	var summaries []*types.PeriodSummary
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, errors.NewIndexError(errors.CodeReadFailed, "failed to scan summary", err)
		}
		summary, err := decodeSummary(blob)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewIndexError(errors.CodeReadFailed, "error iterating summaries", err)
	}
	return summaries, nil
}

// EventRecord is the thin active-window projection served by QueryEvents.
type EventRecord struct {
	ID        string
	Timestamp time.Time
	SessionID string
	Type      eventlog.EventType
}

// QueryEvents filters the active-window projection by type, session, and
// time range. Zero-valued query fields match everything. This runs on the
// read pool and is never blocked by compaction writes.
func (i *Index) QueryEvents(ctx context.Context, q eventlog.Query) ([]*EventRecord, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if q.Type != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, string(q.Type))
	}
	if q.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if !q.From.IsZero() {
		clauses = append(clauses, "ts >= ?")
		args = append(args, q.From.UTC().Format(time.RFC3339Nano))
	}
	if !q.To.IsZero() {
		clauses = append(clauses, "ts <= ?")
		args = append(args, q.To.UTC().Format(time.RFC3339Nano))
	}

	query := "SELECT id, ts, session_id, event_type FROM events"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY ts"

	rows, err := i.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewIndexError(errors.CodeReadFailed, "failed to query events", err)
	}
	defer rows.Close()

	var records []*EventRecord
	for rows.Next() {
		var rec EventRecord
		var ts, sessionID sql.NullString
		var eventType string
		if err := rows.Scan(&rec.ID, &ts, &sessionID, &eventType); err != nil {
			return nil, errors.NewIndexError(errors.CodeReadFailed, "failed to scan event", err)
		}
		if ts.Valid {
			parsed, err := time.Parse(time.RFC3339Nano, ts.String)
			if err != nil {
				return nil, errors.NewIndexError(errors.CodeReadFailed, "invalid timestamp in index", err)
			}
			rec.Timestamp = parsed
		}
		rec.SessionID = sessionID.String
		rec.Type = eventlog.EventType(eventType)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewIndexError(errors.CodeReadFailed, "error iterating events", err)
	}
	return records, nil
}

// Rebuild re-derives the entire index from the on-disk daily files and the
// archived summaries, inside a single transaction. Used for corruption
// recovery and first-time setup; safe to run at any point because the index
// never holds information the log and archive do not.
func (i *Index) Rebuild(ctx context.Context, logDir string, store archive.Storage) error {
	evlog := eventlog.Open(logDir)
	names, err := evlog.ListFiles()
	if err != nil {
		return errors.NewIndexError(errors.CodeRebuildFailed, "failed to list log files", err)
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewIndexError(errors.CodeRebuildFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM events"); err != nil {
		return errors.NewIndexError(errors.CodeRebuildFailed, "failed to clear events", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM summaries"); err != nil {
		return errors.NewIndexError(errors.CodeRebuildFailed, "failed to clear summaries", err)
	}

	for _, name := range names {
		events, err := evlog.ReadFile(name)
		if err != nil {
			return errors.NewIndexError(errors.CodeRebuildFailed, "failed to read "+name, err)
		}
		if err := insertEventsTx(ctx, tx, events); err != nil {
			return err
		}
	}

	if store != nil {
		if err := i.rebuildSummariesTx(ctx, tx, store); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewIndexError(errors.CodeRebuildFailed, "failed to commit rebuild", err)
	}
	return nil
}

// rebuildSummariesTx re-inserts every summary found in the archive.
func (i *Index) rebuildSummariesTx(ctx context.Context, tx *sql.Tx, store archive.Storage) error {
	objects, err := store.List(ctx, "")
	if err != nil {
		return errors.NewIndexError(errors.CodeRebuildFailed, "failed to list archive", err)
	}

	for _, objectPath := range objects {
		base := objectPath
		if idx := strings.LastIndex(base, "/"); idx >= 0 {
			base = base[idx+1:]
		}
		if !strings.HasPrefix(base, "summary-") || !strings.HasSuffix(base, ".json") {
			continue
		}

		data, err := store.Read(ctx, objectPath)
		if err != nil {
			return errors.NewIndexError(errors.CodeRebuildFailed, "failed to read "+objectPath, err)
		}
		var summary types.PeriodSummary
		if err := json.Unmarshal(data, &summary); err != nil {
			log.Printf("index: skipping undecodable summary %s: %v", objectPath, err)
			continue
		}

		blob, err := encodeSummary(&summary)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO summaries (period, summary_id, created_at, data) VALUES (?, ?, ?, ?)",
			summary.Period, summary.ID, summary.CreatedAt.Unix(), blob)
		if err != nil {
			return errors.NewIndexError(errors.CodeRebuildFailed, "failed to insert summary for "+summary.Period, err)
		}
	}
	return nil
}

// encodeSummary serializes a summary to its compressed blob form.
func encodeSummary(summary *types.PeriodSummary) ([]byte, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return nil, errors.NewIndexError(errors.CodeIndexOpenFailed, "failed to encode summary", err)
	}
	return snappy.Encode(nil, data), nil
}

// decodeSummary parses a compressed summary blob.
func decodeSummary(blob []byte) (*types.PeriodSummary, error) {
	data, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, errors.NewIndexError(errors.CodeReadFailed, "failed to decompress summary", err)
	}
	var summary types.PeriodSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, errors.NewIndexError(errors.CodeReadFailed, "failed to decode summary", err)
	}
	return &summary, nil
}
