package domain

import (
	"fmt"
	"strings"
	"time"
)

// Period selects the bucket layout of a view.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// ParsePeriod validates a period name.
func ParsePeriod(raw string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodYear:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, raw)
}

// Bucket is a half-open time span [Start, End) used as an aggregation unit.
// Key identifies the bucket for grouping (a date, month or hour slot) and
// Label is its display text.
type Bucket struct {
	Start time.Time
	End   time.Time
	Key   string
	Label string
}

// Contains reports whether t falls inside the bucket.
func (b Bucket) Contains(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// Overlap returns the length of the intersection of [start, end) with the bucket.
func (b Bucket) Overlap(start, end time.Time) time.Duration {
	if !start.Before(b.End) || !end.After(b.Start) {
		return 0
	}
	lo := start
	if b.Start.After(lo) {
		lo = b.Start
	}
	hi := end
	if b.End.Before(hi) {
		hi = b.End
	}
	return hi.Sub(lo)
}

// Width returns End - Start.
func (b Bucket) Width() time.Duration {
	return b.End.Sub(b.Start)
}
