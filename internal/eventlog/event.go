// Package eventlog implements the append-only interaction log: one JSONL file
// per UTC day, one event per line. It is the writer and reader side of the
// raw log that compaction folds into period summaries.
package eventlog

import (
	"fmt"
	"strings"
	"time"
)

// EventType enumerates the closed set of interaction event types.
type EventType string

const (
	TypeSessionStart EventType = "session_start"
	TypeSessionEnd   EventType = "session_end"
	TypeSkillUsed    EventType = "skill_used"
	TypeError        EventType = "error"
	TypeInteraction  EventType = "interaction"
	TypeStateChange  EventType = "state_change"
)

// ValidType reports whether t is a member of the closed event type enum.
func ValidType(t EventType) bool {
	switch t {
	case TypeSessionStart, TypeSessionEnd, TypeSkillUsed, TypeError, TypeInteraction, TypeStateChange:
		return true
	}
	return false
}

// Event is a single timestamped interaction record. Events are immutable once
// written; the Data map is an open key/value payload whose interpretation
// belongs to the event type (e.g. "skill" for skill_used, "error" for error).
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"sessionId"`
	Type      EventType              `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

const (
	filePrefix = "events-"
	fileSuffix = ".jsonl"

	// fileDateLayout is the date component embedded in daily filenames.
	fileDateLayout = "2006-01-02"

	// PeriodLayout is the calendar-month key format used across the system.
	PeriodLayout = "2006-01"
)

// FileForDate returns the daily log filename for the given instant, using the
// UTC calendar date.
func FileForDate(t time.Time) string {
	return filePrefix + t.UTC().Format(fileDateLayout) + fileSuffix
}

// ParseFileDate extracts the embedded date from a daily log filename.
// Returns false for names that do not match the events-YYYY-MM-DD.jsonl
// pattern; the index database and temp files live in the same directory.
func ParseFileDate(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return time.Time{}, false
	}
	datePart := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	t, err := time.ParseInLocation(fileDateLayout, datePart, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// PeriodOf returns the YYYY-MM period key for an instant in UTC.
func PeriodOf(t time.Time) string {
	return t.UTC().Format(PeriodLayout)
}

// ParsePeriod parses a YYYY-MM period key into its first instant (UTC).
func ParsePeriod(period string) (time.Time, error) {
	t, err := time.ParseInLocation(PeriodLayout, period, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("eventlog: invalid period %q: %w", period, err)
	}
	return t, nil
}
