package consultation

import (
	"sort"
	"strings"
	"time"
)

// DateGroup holds the records that fall on one calendar date.
type DateGroup[R any] struct {
	Date  string `json:"date"`
	Tests []R    `json:"tests"`
}

var historyDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-1-2",
}

// GroupByDate buckets records by the calendar date of dateOf(record) and
// returns the buckets newest first. Records keep their relative order inside
// a bucket. Dates that cannot be parsed are grouped under their raw value and
// placed after every dated group.
func GroupByDate[R any](records []R, dateOf func(R) string) []DateGroup[R] {
	type bucket struct {
		day    time.Time
		dated  bool
		group  DateGroup[R]
		seenAt int
	}

	buckets := make(map[string]*bucket)
	var order []*bucket
	for _, rec := range records {
		raw := strings.TrimSpace(dateOf(rec))
		day, ok := parseHistoryDate(raw)
		key := raw
		if ok {
			key = day.Format(dateLayout)
		}
		b, exists := buckets[key]
		if !exists {
			b = &bucket{day: day, dated: ok, group: DateGroup[R]{Date: key}, seenAt: len(order)}
			buckets[key] = b
			order = append(order, b)
		}
		b.group.Tests = append(b.group.Tests, rec)
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.dated != b.dated {
			return a.dated
		}
		if a.dated {
			return a.day.After(b.day)
		}
		return a.seenAt < b.seenAt
	})

	out := make([]DateGroup[R], len(order))
	for i, b := range order {
		out[i] = b.group
	}
	return out
}

func parseHistoryDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range historyDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return dateOnly(t), true
		}
	}
	// timestamp with a non-padded date part, e.g. "2025-3-1T08:00:00"
	if i := strings.IndexAny(raw, "T "); i > 0 {
		if t, err := time.Parse("2006-1-2", raw[:i]); err == nil {
			return dateOnly(t), true
		}
	}
	return time.Time{}, false
}

// GroupInvestigations groups saved results by the date they were recorded.
func GroupInvestigations(records []InvestigationRecord) []DateGroup[InvestigationRecord] {
	return GroupByDate(records, func(r InvestigationRecord) string {
		return r.RecordedAt.Format(time.RFC3339)
	})
}
