package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Granularity identifies one rollup tier. Each tier aggregates from the next
// finer one; Hour aggregates raw heartbeats.
type Granularity string

const (
	Hour  Granularity = "hour"
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
	Year  Granularity = "year"
)

// Granularities lists all tiers, finest first.
var Granularities = []Granularity{Hour, Day, Week, Month, Year}

// ParseGranularity maps a path/query token to a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case Hour, Day, Week, Month, Year:
		return Granularity(s), nil
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

// String returns the granularity's wire/log token.
func (g Granularity) String() string {
	return string(g)
}

// Table returns the rollup table name for this granularity.
func (g Granularity) Table() string {
	return "rollup_" + string(g) + "s"
}

// Source returns the next-finer granularity this tier aggregates from, and
// false for Hour, which aggregates raw heartbeats.
func (g Granularity) Source() (Granularity, bool) {
	switch g {
	case Day:
		return Hour, true
	case Week:
		return Day, true
	case Month:
		return Week, true
	case Year:
		return Month, true
	}
	return "", false
}

// Truncate returns the calendar-aligned start of the window containing t,
// evaluated in loc: top of hour, midnight, Monday 00:00, 1st 00:00, Jan 1
// 00:00. Alignment to wall-clock boundaries keeps restarts from
// desynchronizing window starts.
func (g Granularity) Truncate(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, mo, d := t.Date()
	switch g {
	case Hour:
		return time.Date(y, mo, d, t.Hour(), 0, 0, 0, loc)
	case Day:
		return time.Date(y, mo, d, 0, 0, 0, 0, loc)
	case Week:
		midnight := time.Date(y, mo, d, 0, 0, 0, 0, loc)
		offset := (int(midnight.Weekday()) + 6) % 7 // days since Monday
		return midnight.AddDate(0, 0, -offset)
	case Month:
		return time.Date(y, mo, 1, 0, 0, 0, 0, loc)
	case Year:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	}
	return t
}

// Next returns the start of the window after the one containing t.
// AddDate normalization keeps this correct across DST shifts and
// variable-length months.
func (g Granularity) Next(t time.Time, loc *time.Location) time.Time {
	start := g.Truncate(t, loc)
	switch g {
	case Hour:
		y, mo, d := start.Date()
		return time.Date(y, mo, d, start.Hour()+1, 0, 0, 0, loc)
	case Day:
		return start.AddDate(0, 0, 1)
	case Week:
		return start.AddDate(0, 0, 7)
	case Month:
		return start.AddDate(0, 1, 0)
	case Year:
		return start.AddDate(1, 0, 0)
	}
	return start
}

// PreviousWindow returns the immediately preceding closed window
// [start, end) relative to now.
func (g Granularity) PreviousWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	end := g.Truncate(now, loc)
	var start time.Time
	switch g {
	case Hour:
		y, mo, d := end.Date()
		start = time.Date(y, mo, d, end.Hour()-1, 0, 0, 0, loc)
	case Day:
		start = end.AddDate(0, 0, -1)
	case Week:
		start = end.AddDate(0, 0, -7)
	case Month:
		start = end.AddDate(0, -1, 0)
	case Year:
		start = end.AddDate(-1, 0, 0)
	}
	return start, end
}

// LabelCounts is a frequency distribution over sanitized label values.
type LabelCounts map[string]int

// Inc counts one occurrence of label. Empty labels are ignored: a client
// with an absent field contributes to onlineUsers but not to any
// distribution.
func (lc LabelCounts) Inc(label string) {
	if label == "" {
		return
	}
	lc[label]++
}

// Merge adds all counts from other into lc.
func (lc LabelCounts) Merge(other LabelCounts) {
	for label, n := range other {
		lc[label] += n
	}
}

// Total returns the sum of all counts.
func (lc LabelCounts) Total() int {
	var total int
	for _, n := range lc {
		total += n
	}
	return total
}

// MarshalBlob serializes the distribution for storage. Serialization is a
// storage-format concern; in memory the distribution stays a first-class map.
func (lc LabelCounts) MarshalBlob() (string, error) {
	if lc == nil {
		lc = LabelCounts{}
	}
	data, err := json.Marshal(lc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal label counts: %w", err)
	}
	return string(data), nil
}

// UnmarshalBlob parses a stored distribution blob.
func UnmarshalBlob(blob string) (LabelCounts, error) {
	lc := LabelCounts{}
	if blob == "" {
		return lc, nil
	}
	if err := json.Unmarshal([]byte(blob), &lc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal label counts: %w", err)
	}
	return lc, nil
}

// RollupRow is one closed, immutable aggregation window at one granularity.
// Primary key is WindowStart.
type RollupRow struct {
	WindowStart   int64       `json:"windowStart"` // epoch ms, boundary-aligned
	OnlineUsers   int         `json:"onlineUsers"`
	VersionTotals LabelCounts `json:"versionTotals"`
	BrowserTotals LabelCounts `json:"browserTotals"`
	OSTotals      LabelCounts `json:"osTotals"`
	WindowEnd     int64       `json:"windowEnd"` // diagnostic only
}

// NewRollupRow returns an empty row for the window [start, end).
func NewRollupRow(start, end time.Time) *RollupRow {
	return &RollupRow{
		WindowStart:   start.UnixMilli(),
		VersionTotals: LabelCounts{},
		BrowserTotals: LabelCounts{},
		OSTotals:      LabelCounts{},
		WindowEnd:     end.UnixMilli(),
	}
}

// AddHeartbeat folds one source heartbeat into the row.
func (r *RollupRow) AddHeartbeat(h *Heartbeat) {
	r.OnlineUsers++
	r.VersionTotals.Inc(h.Version)
	r.BrowserTotals.Inc(h.Browser)
	r.OSTotals.Inc(h.OS)
}

// AddRollup folds one finer-granularity source row into the row. Counts are
// summed, never re-counted, so sum(versionTotals) <= onlineUsers holds at
// every tier.
func (r *RollupRow) AddRollup(src *RollupRow) {
	r.OnlineUsers += src.OnlineUsers
	r.VersionTotals.Merge(src.VersionTotals)
	r.BrowserTotals.Merge(src.BrowserTotals)
	r.OSTotals.Merge(src.OSTotals)
}
