// Package buckets partitions time ranges into calendar buckets for each view period.
package buckets

import (
	"fmt"
	"time"

	"example.com/biometrics/internal/domain"
)

const (
	dayBucketCount   = 6
	dayBucketHours   = 4
	weekBucketCount  = 7
	monthBucketCount = 30
	yearBucketCount  = 12
	fixedDay         = 24 * time.Hour
)

// Generate returns the ordered, contiguous buckets for period that end at anchor.
// The result depends only on its arguments.
func Generate(period domain.Period, anchor time.Time, loc *time.Location) ([]domain.Bucket, error) {
	if loc == nil {
		loc = time.UTC
	}
	anchor = anchor.In(loc)

	switch period {
	case domain.PeriodDay:
		return dayBuckets(anchor, loc), nil
	case domain.PeriodWeek:
		return fixedDayBuckets(anchor, loc, weekBucketCount, "Mon"), nil
	case domain.PeriodMonth:
		return fixedDayBuckets(anchor, loc, monthBucketCount, "02"), nil
	case domain.PeriodYear:
		return monthBuckets(anchor, loc), nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPeriod, period)
}

// dayBuckets covers the anchor's local day in 4-hour wall-clock slots.
func dayBuckets(anchor time.Time, loc *time.Location) []domain.Bucket {
	y, m, d := anchor.Date()
	out := make([]domain.Bucket, 0, dayBucketCount)
	for i := 0; i < dayBucketCount; i++ {
		start := time.Date(y, m, d, i*dayBucketHours, 0, 0, 0, loc)
		end := time.Date(y, m, d, (i+1)*dayBucketHours, 0, 0, 0, loc)
		out = append(out, domain.Bucket{
			Start: start,
			End:   end,
			Key:   start.Format("2006-01-02T15"),
			Label: start.Format("15:04"),
		})
	}
	return out
}

// fixedDayBuckets returns n buckets of exactly 24 hours, the last ending at anchor.
// Each bucket is keyed by the local date of its last instant.
func fixedDayBuckets(anchor time.Time, loc *time.Location, n int, labelLayout string) []domain.Bucket {
	out := make([]domain.Bucket, 0, n)
	for i := n - 1; i >= 0; i-- {
		end := anchor.Add(-time.Duration(i) * fixedDay)
		start := end.Add(-fixedDay)
		last := end.Add(-time.Nanosecond)
		out = append(out, domain.Bucket{
			Start: start,
			End:   end,
			Key:   string(domain.DateOf(last, loc)),
			Label: last.Format(labelLayout),
		})
	}
	return out
}

// monthBuckets returns twelve true calendar months. The final bucket is the
// in-progress month truncated at anchor; it is not prorated.
func monthBuckets(anchor time.Time, loc *time.Location) []domain.Bucket {
	lastStart := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, loc)
	lastEnd := anchor
	if !anchor.After(lastStart) {
		lastEnd = lastStart
		lastStart = time.Date(anchor.Year(), anchor.Month()-1, 1, 0, 0, 0, 0, loc)
	}

	out := make([]domain.Bucket, 0, yearBucketCount)
	for i := 0; i < yearBucketCount; i++ {
		offset := time.Month(yearBucketCount - 1 - i)
		start := time.Date(lastStart.Year(), lastStart.Month()-offset, 1, 0, 0, 0, 0, loc)
		end := time.Date(start.Year(), start.Month()+1, 1, 0, 0, 0, 0, loc)
		if i == yearBucketCount-1 {
			end = lastEnd
		}
		out = append(out, domain.Bucket{
			Start: start,
			End:   end,
			Key:   start.Format("2006-01"),
			Label: start.Format("Jan"),
		})
	}
	return out
}

// Days returns one local calendar-day bucket per date in [from, to].
func Days(from, to domain.DateKey, loc *time.Location) ([]domain.Bucket, error) {
	if loc == nil {
		loc = time.UTC
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %s is before %s", domain.ErrInvalidRange, to, from)
	}
	var out []domain.Bucket
	for d := from; !d.After(to); d = d.AddDays(1) {
		start := d.Start(loc)
		out = append(out, domain.Bucket{
			Start: start,
			End:   d.AddDays(1).Start(loc),
			Key:   string(d),
			Label: start.Format("02"),
		})
	}
	return out, nil
}

// DateOf returns the local calendar date holding the bucket's last instant.
func DateOf(b domain.Bucket) domain.DateKey {
	last := b.End.Add(-time.Nanosecond)
	return domain.DateOf(last, b.End.Location())
}

// Span returns the half-open date range [from, to) touched by the buckets.
func Span(bs []domain.Bucket) (from, to domain.DateKey) {
	if len(bs) == 0 {
		return "", ""
	}
	first := bs[0]
	from = domain.DateOf(first.Start, first.Start.Location())
	to = DateOf(bs[len(bs)-1]).AddDays(1)
	return from, to
}
