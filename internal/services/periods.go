package services

import (
	"strings"
	"time"
)

type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
	GranularityYear  Granularity = "year"
)

// ParseGranularity normalizes a group_by parameter. Anything unrecognized
// degrades to daily grouping rather than failing the request.
func ParseGranularity(s string) Granularity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "month":
		return GranularityMonth
	case "year":
		return GranularityYear
	default:
		return GranularityDay
	}
}

// Period is a half-open calendar bucket [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Label() string { return p.Start.Format("2006-01-02") }

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Periods returns the ordered calendar-aligned buckets covering [start, end].
// Bucket boundaries are floored to the granularity (midnight, first of month,
// Jan 1); when that floor would reach before the requested window, the first
// bucket is clamped to start instead so no out-of-window data is reported.
// The sequence includes the bucket containing end.
func Periods(start, end time.Time, g Granularity) []Period {
	start, end = start.UTC(), end.UTC()
	if end.Before(start) { return nil }

	dayFloor := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	boundary := dayFloor
	switch g {
	case GranularityMonth:
		boundary = time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	case GranularityYear:
		boundary = time.Date(start.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}

	var out []Period
	for !boundary.After(end) {
		next := nextBoundary(boundary, g)
		bs := boundary
		if bs.Before(dayFloor) { bs = start }
		out = append(out, Period{Start: bs, End: next})
		boundary = next
	}
	return out
}

func nextBoundary(t time.Time, g Granularity) time.Time {
	switch g {
	case GranularityMonth:
		return t.AddDate(0, 1, 0)
	case GranularityYear:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}
