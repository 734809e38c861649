// Package types defines the shared data types exchanged between the
// compaction engine, the secondary index, and downstream reporting.
package types

import (
	"time"

	"github.com/mnemolabs/mnemo/internal/bloom"
)

// PeriodSummary is the unit of compaction output: the permanent statistical
// record of one calendar month of events. It is created once, persisted once,
// and immutable afterwards; re-running compaction never rewrites an existing
// summary for the same period.
type PeriodSummary struct {
	// ID is assigned at creation and never reused.
	ID string `json:"id"`

	// Period is the calendar month key (YYYY-MM), unique across the archive.
	Period string `json:"period"`

	// CreatedAt is the summary creation time.
	CreatedAt time.Time `json:"createdAt"`

	// EventCount is the total number of events folded into the summary.
	EventCount int `json:"eventCount"`

	// EventCounts breaks EventCount down per event type.
	EventCounts map[string]int `json:"eventCounts"`

	// TopPatterns holds the ranked skill and error name lists.
	TopPatterns TopPatterns `json:"topPatterns"`

	// TimeDistribution holds event counts by weekday and hour-of-day (UTC).
	TimeDistribution TimeDistribution `json:"timeDistribution"`

	// SessionStats aggregates per-session statistics.
	SessionStats SessionStats `json:"sessionStats"`

	// Anomalies lists zero-count and unusually high-count days.
	Anomalies Anomalies `json:"anomalies"`

	// SourceFiles is the exact set of daily filenames folded into this
	// summary. It determines what to delete and what not to re-copy.
	SourceFiles []string `json:"sourceFiles"`

	// EventFilter is a bloom filter over the event IDs in this period, for
	// membership checks without reading the archived JSONL.
	EventFilter *bloom.Serialized `json:"eventFilter,omitempty"`
}

// TopPatterns holds the two ranked top-10 lists extracted from event
// payloads: skill names from skill_used events and error names from error
// events.
type TopPatterns struct {
	Skills []PatternCount `json:"skills"`
	Errors []PatternCount `json:"errors"`
}

// PatternCount is one ranked entry in a top-pattern list.
type PatternCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TimeDistribution buckets event counts by English weekday name and by
// hour-of-day 0-23. Both use UTC so repeated runs agree across hosts.
type TimeDistribution struct {
	ByWeekday map[string]int `json:"byWeekday"`
	ByHour    [24]int        `json:"byHour"`
}

// SessionStats aggregates session-level statistics for the period.
type SessionStats struct {
	// SessionCount is the number of distinct session IDs.
	SessionCount int `json:"sessionCount"`

	// AvgEventsPerSession is the mean event count over distinct sessions.
	AvgEventsPerSession float64 `json:"avgEventsPerSession"`

	// LongestSession identifies the single session with the most events.
	LongestSession *SessionRef `json:"longestSession,omitempty"`
}

// SessionRef identifies a session and its event count.
type SessionRef struct {
	SessionID  string `json:"sessionId"`
	EventCount int    `json:"eventCount"`
}

// Anomalies flags unusual days within the period. ZeroDays lists calendar
// days (YYYY-MM-DD) with no events; HighCountDays lists days whose count
// exceeds mean+2 standard deviations of the period's daily counts.
type Anomalies struct {
	ZeroDays      []string       `json:"zeroDays"`
	HighCountDays []HighCountDay `json:"highCountDays"`
}

// HighCountDay is one flagged high-volume day.
type HighCountDay struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}
