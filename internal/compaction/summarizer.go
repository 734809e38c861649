// Package compaction implements the event-log compaction engine: it detects
// cold calendar months in the daily log, folds their events into statistical
// period summaries, archives the raw files, keeps the secondary index in
// step, and deletes the originals only after the archive is durable.
package compaction

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mnemolabs/mnemo/internal/eventlog"
	"github.com/mnemolabs/mnemo/pkg/types"
)

// topPatternLimit caps each ranked pattern list.
const topPatternLimit = 10

// GeneratePeriodSummary folds one month of events into a PeriodSummary.
// It performs no I/O. Apart from the assigned ID and creation timestamp,
// identical (period, events) input always yields identical output, so it is
// safe to call repeatedly and from reporting code with synthetic data.
func GeneratePeriodSummary(period string, events []*eventlog.Event) (*types.PeriodSummary, error) {
	start, err := eventlog.ParsePeriod(period)
	if err != nil {
		return nil, err
	}

	summary := &types.PeriodSummary{
		ID:          uuid.NewString(),
		Period:      period,
		CreatedAt:   time.Now().UTC(),
		EventCount:  len(events),
		EventCounts: make(map[string]int),
		TimeDistribution: types.TimeDistribution{
			ByWeekday: make(map[string]int),
		},
	}

	skills := newPatternCounter()
	errs := newPatternCounter()
	sessions := newSessionCounter()
	sourceFiles := make(map[string]bool)
	dailyCounts := make(map[string]int)

	for _, e := range events {
		summary.EventCounts[string(e.Type)]++

		ts := e.Timestamp.UTC()
		summary.TimeDistribution.ByWeekday[ts.Weekday().String()]++
		summary.TimeDistribution.ByHour[ts.Hour()]++
		dailyCounts[ts.Format("2006-01-02")]++
		sourceFiles[eventlog.FileForDate(ts)] = true

		sessions.observe(e.SessionID)

		switch e.Type {
		case eventlog.TypeSkillUsed:
			if name, ok := e.Data["skill"].(string); ok && name != "" {
				skills.observe(name)
			}
		case eventlog.TypeError:
			if name, ok := e.Data["error"].(string); ok && name != "" {
				errs.observe(name)
			}
		}
	}

	summary.TopPatterns.Skills = skills.top(topPatternLimit)
	summary.TopPatterns.Errors = errs.top(topPatternLimit)
	summary.SessionStats = sessions.stats()
	summary.Anomalies = detectAnomalies(start, dailyCounts)

	for name := range sourceFiles {
		summary.SourceFiles = append(summary.SourceFiles, name)
	}
	sort.Strings(summary.SourceFiles)

	return summary, nil
}

// detectAnomalies builds the daily count array spanning every calendar day
// of the period (zero-filled from the month's year/month, not from the data),
// then flags zero days and days above mean+2 sigma. Population statistics;
// when sigma is zero no high-count days are reported, so uniform or sparse
// months are not flagged wholesale.
func detectAnomalies(monthStart time.Time, dailyCounts map[string]int) types.Anomalies {
	days := daysInMonth(monthStart)
	counts := make([]int, days)
	dates := make([]string, days)

	for i := 0; i < days; i++ {
		date := monthStart.AddDate(0, 0, i).Format("2006-01-02")
		dates[i] = date
		counts[i] = dailyCounts[date]
	}

	var sum float64
	for _, c := range counts {
		sum += float64(c)
	}
	mean := sum / float64(days)

	var variance float64
	for _, c := range counts {
		d := float64(c) - mean
		variance += d * d
	}
	variance /= float64(days)
	sigma := math.Sqrt(variance)

	anomalies := types.Anomalies{
		ZeroDays:      []string{},
		HighCountDays: []types.HighCountDay{},
	}
	threshold := mean + 2*sigma

	for i, c := range counts {
		if c == 0 {
			anomalies.ZeroDays = append(anomalies.ZeroDays, dates[i])
			continue
		}
		if sigma > 0 && float64(c) > threshold {
			anomalies.HighCountDays = append(anomalies.HighCountDays, types.HighCountDay{
				Date:  dates[i],
				Count: c,
			})
		}
	}
	return anomalies
}

// daysInMonth returns the number of calendar days in the month containing t.
func daysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// patternCounter frequency-counts names while remembering first-seen order,
// which breaks ties in the ranked output (stable sort).
type patternCounter struct {
	counts    map[string]int
	firstSeen map[string]int
	next      int
}

func newPatternCounter() *patternCounter {
	return &patternCounter{
		counts:    make(map[string]int),
		firstSeen: make(map[string]int),
	}
}

func (p *patternCounter) observe(name string) {
	if _, ok := p.counts[name]; !ok {
		p.firstSeen[name] = p.next
		p.next++
	}
	p.counts[name]++
}

func (p *patternCounter) top(limit int) []types.PatternCount {
	ranked := make([]types.PatternCount, 0, len(p.counts))
	for name, count := range p.counts {
		ranked = append(ranked, types.PatternCount{Name: name, Count: count})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return p.firstSeen[ranked[i].Name] < p.firstSeen[ranked[j].Name]
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// sessionCounter accumulates per-session event counts. Events without a
// session ID count toward EventCount but not toward session statistics.
type sessionCounter struct {
	counts    map[string]int
	firstSeen map[string]int
	next      int
	total     int
}

func newSessionCounter() *sessionCounter {
	return &sessionCounter{
		counts:    make(map[string]int),
		firstSeen: make(map[string]int),
	}
}

func (s *sessionCounter) observe(sessionID string) {
	if sessionID == "" {
		return
	}
	if _, ok := s.counts[sessionID]; !ok {
		s.firstSeen[sessionID] = s.next
		s.next++
	}
	s.counts[sessionID]++
	s.total++
}

func (s *sessionCounter) stats() types.SessionStats {
	stats := types.SessionStats{SessionCount: len(s.counts)}
	if stats.SessionCount == 0 {
		return stats
	}
	stats.AvgEventsPerSession = float64(s.total) / float64(stats.SessionCount)

	// First session to reach the maximum wins ties.
	best := types.SessionRef{EventCount: -1}
	bestSeen := 0
	for id, count := range s.counts {
		seen := s.firstSeen[id]
		if count > best.EventCount || (count == best.EventCount && seen < bestSeen) {
			best = types.SessionRef{SessionID: id, EventCount: count}
			bestSeen = seen
		}
	}
	stats.LongestSession = &best
	return stats
}

// SummaryObjectPath returns the archive-relative path of a period's summary
// artifact. Its existence is the sentinel marking the period archived.
func SummaryObjectPath(period string) string {
	return fmt.Sprintf("%s/summary-%s.json", period[:4], period)
}
