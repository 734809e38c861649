// Package index maintains the embedded secondary index over the active
// window of the event log: a thin projection of events for fast filtering
// plus the full serialized summary per compacted period. The index is a
// derived, disposable artifact — the raw log and the archive are the sources
// of truth, and the whole database can be rebuilt from them at any time.
package index

// Schema DDL for the index database. The events table carries no payload:
// it exists to answer type/session/time filters over the active window
// without scanning JSONL files.
const (
	eventsDDL = `
CREATE TABLE IF NOT EXISTS events (
    id         TEXT PRIMARY KEY,
    ts         TEXT NOT NULL,
    session_id TEXT,
    event_type TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
`

	summariesDDL = `
CREATE TABLE IF NOT EXISTS summaries (
    period     TEXT PRIMARY KEY,
    summary_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    data       BLOB NOT NULL
);
`
)

// allSchemaSQL returns every DDL statement required by the index.
func allSchemaSQL() []string {
	return []string{eventsDDL, summariesDDL}
}
