package domain

import (
	"fmt"
	"time"
)

// DateLayout is the canonical textual form of a DateKey.
const DateLayout = "2006-01-02"

// DateKey is a calendar date without a time of day. The zero-padded layout
// keeps lexical and chronological order identical.
type DateKey string

// DateOf returns the calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) DateKey {
	if loc == nil {
		loc = time.UTC
	}
	return DateKey(t.In(loc).Format(DateLayout))
}

// ParseDateKey validates a YYYY-MM-DD string.
func ParseDateKey(raw string) (DateKey, error) {
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", raw, err)
	}
	return DateKey(t.Format(DateLayout)), nil
}

// MustDate panics on an invalid date; intended for tests and constants.
func MustDate(raw string) DateKey {
	d, err := ParseDateKey(raw)
	if err != nil {
		panic(err)
	}
	return d
}

func (d DateKey) String() string { return string(d) }

func (d DateKey) civil() (int, time.Month, int) {
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return 1, time.January, 1
	}
	return t.Year(), t.Month(), t.Day()
}

// Start returns local midnight of the date in loc.
func (d DateKey) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, day := d.civil()
	return time.Date(y, m, day, 0, 0, 0, 0, loc)
}

// AddDays returns the date n calendar days later (earlier when n < 0).
func (d DateKey) AddDays(n int) DateKey {
	y, m, day := d.civil()
	return DateKey(time.Date(y, m, day+n, 0, 0, 0, 0, time.UTC).Format(DateLayout))
}

// MonthKey returns the YYYY-MM prefix of the date.
func (d DateKey) MonthKey() string {
	if len(d) < 7 {
		return string(d)
	}
	return string(d[:7])
}

// Before reports whether d is strictly earlier than other.
func (d DateKey) Before(other DateKey) bool { return d < other }

// After reports whether d is strictly later than other.
func (d DateKey) After(other DateKey) bool { return d > other }
