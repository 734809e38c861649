package compaction

import (
	"sort"
	"time"

	"github.com/mnemolabs/mnemo/internal/eventlog"
)

// FindEligiblePeriods scans the log directory by filename only and returns
// the calendar months that are entirely older than the cutoff, sorted
// ascending. A month qualifies when its latest recorded day is strictly
// before the cutoff's UTC calendar date; partial months are never split.
// A missing directory or an empty one yields an empty result, not an error.
func FindEligiblePeriods(logDir string, cutoff time.Time) ([]string, error) {
	names, err := eventlog.Open(logDir).ListFiles()
	if err != nil {
		return nil, err
	}

	latestByPeriod := make(map[string]time.Time)
	for _, name := range names {
		date, ok := eventlog.ParseFileDate(name)
		if !ok {
			continue
		}
		period := eventlog.PeriodOf(date)
		if latest, seen := latestByPeriod[period]; !seen || date.After(latest) {
			latestByPeriod[period] = date
		}
	}

	cutoffDay := cutoff.UTC().Truncate(24 * time.Hour)

	var eligible []string
	for period, latest := range latestByPeriod {
		if latest.Before(cutoffDay) {
			eligible = append(eligible, period)
		}
	}
	sort.Strings(eligible)
	return eligible, nil
}
