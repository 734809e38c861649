package eventlog

import (
	"bufio"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mnemolabs/mnemo/internal/errors"
)

// maxLineBytes bounds a single event line. Event payloads are small key/value
// maps; anything past 1MB is treated as malformed.
const maxLineBytes = 1 << 20

// Log reads and appends daily JSONL event files in a single directory.
// Single-writer: concurrent appends from multiple processes are out of scope.
type Log struct {
	dir string
}

// Open returns a Log rooted at dir. The directory is created lazily on first
// append, so opening a log over a missing directory is not an error.
func Open(dir string) *Log {
	return &Log{dir: dir}
}

// Dir returns the log directory.
func (l *Log) Dir() string {
	return l.dir
}

// Path returns the absolute path of a daily file name within the log.
func (l *Log) Path(name string) string {
	return filepath.Join(l.dir, name)
}

// Append writes one event as a JSON line to the daily file for its UTC date.
// A missing ID is assigned a fresh UUID and a zero timestamp defaults to now.
func (l *Log) Append(e *Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if !ValidType(e.Type) {
		return errors.New(errors.ErrCategoryEventLog, errors.CodeMalformedEvent,
			"unknown event type "+string(e.Type))
	}

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return errors.NewEventLogError(errors.CodeAppendFailed, "failed to create log directory", err)
	}

	line, err := json.Marshal(e)
	if err != nil {
		return errors.NewEventLogError(errors.CodeAppendFailed, "failed to encode event", err)
	}

	path := l.Path(FileForDate(e.Timestamp))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.NewEventLogError(errors.CodeAppendFailed, "failed to open daily file", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.NewEventLogError(errors.CodeAppendFailed, "failed to append event", err)
	}
	return nil
}

// ListFiles returns the daily log filenames in the directory, sorted
// ascending by name (and therefore by date). A missing directory yields an
// empty result, not an error.
func (l *Log) ListFiles() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewEventLogError(errors.CodeReadFailed, "failed to list log directory", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := ParseFileDate(entry.Name()); ok {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReadFile parses one daily file. Malformed lines are skipped and logged; the
// remainder of the file is still processed.
func (l *Log) ReadFile(name string) ([]*Event, error) {
	f, err := os.Open(l.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewEventLogError(errors.CodeReadFailed, "failed to open "+name, err)
	}
	defer f.Close()

	var events []*Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			log.Printf("eventlog: skipping malformed line %d in %s: %v", lineNum, name, err)
			continue
		}
		events = append(events, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewEventLogError(errors.CodeReadFailed, "failed to scan "+name, err)
	}
	return events, nil
}

// ReadPeriod returns every event recorded in the given calendar month, in
// file order. The month is determined by the filename date, which is the UTC
// date of the event timestamp at append time.
func (l *Log) ReadPeriod(period string) ([]*Event, error) {
	if _, err := ParsePeriod(period); err != nil {
		return nil, errors.NewEventLogError(errors.CodeReadFailed, "invalid period", err)
	}

	names, err := l.FilesForPeriod(period)
	if err != nil {
		return nil, err
	}

	var events []*Event
	for _, name := range names {
		fileEvents, err := l.ReadFile(name)
		if err != nil {
			return nil, err
		}
		events = append(events, fileEvents...)
	}
	return events, nil
}

// FilesForPeriod returns the daily filenames whose embedded date falls in the
// given calendar month, sorted ascending.
func (l *Log) FilesForPeriod(period string) ([]string, error) {
	names, err := l.ListFiles()
	if err != nil {
		return nil, err
	}

	var matched []string
	for _, name := range names {
		date, ok := ParseFileDate(name)
		if !ok {
			continue
		}
		if PeriodOf(date) == period {
			matched = append(matched, name)
		}
	}
	return matched, nil
}

// Query filters events by type, session, and date range. Zero-valued fields
// match everything.
type Query struct {
	Type      EventType
	SessionID string
	From      time.Time
	To        time.Time
}

// Filter scans the daily files and returns events matching the query. Files
// wholly outside the date range are pruned by filename without being opened.
func (l *Log) Filter(q Query) ([]*Event, error) {
	names, err := l.ListFiles()
	if err != nil {
		return nil, err
	}

	var out []*Event
	for _, name := range names {
		date, _ := ParseFileDate(name)
		if !q.From.IsZero() && date.Before(q.From.UTC().Truncate(24*time.Hour)) {
			continue
		}
		if !q.To.IsZero() && date.After(q.To) {
			continue
		}

		events, err := l.ReadFile(name)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			if q.Type != "" && e.Type != q.Type {
				continue
			}
			if q.SessionID != "" && e.SessionID != q.SessionID {
				continue
			}
			if !q.From.IsZero() && e.Timestamp.Before(q.From) {
				continue
			}
			if !q.To.IsZero() && e.Timestamp.After(q.To) {
				continue
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// Remove deletes a daily file from the log directory. Removing a file that is
// already gone is not an error, matching delete idempotency elsewhere.
func (l *Log) Remove(name string) error {
	if err := os.Remove(l.Path(name)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewCompactionError(errors.CodeDeleteFailed, "failed to delete "+name, err)
	}
	return nil
}
