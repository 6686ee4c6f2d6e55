// Package rollup derives week, month and year views from stored daily summaries.
package rollup

import (
	"example.com/biometrics/internal/aggregation"
	"example.com/biometrics/internal/buckets"
	"example.com/biometrics/internal/domain"
)

// Build assembles a PeriodSummary for the planned buckets from daily summaries.
// Day, week and month buckets take the summary of the bucket's date; year
// buckets combine every summary of their calendar month.
func Build(period domain.Period, bs []domain.Bucket, summaries []domain.DailySummary) domain.PeriodSummary {
	view := newView(period, bs)
	if period == domain.PeriodYear {
		fillMonths(view, bs, summaries)
		return view
	}

	byDate := make(map[domain.DateKey]domain.DailySummary, len(summaries))
	for _, s := range summaries {
		byDate[s.Date] = s
	}
	for _, b := range bs {
		s, ok := byDate[buckets.DateOf(b)]
		for _, c := range domain.AllCategories {
			var v float64
			if ok {
				v, _ = s.Value(c)
			}
			view.Values[c][b.Key] = v
		}
	}
	return view
}

// Intraday builds a day view straight from aggregation results.
func Intraday(bs []domain.Bucket, results []aggregation.Result) domain.PeriodSummary {
	view := newView(domain.PeriodDay, bs)
	for _, b := range bs {
		for _, c := range domain.AllCategories {
			view.Values[c][b.Key] = 0
		}
	}
	for _, r := range results {
		for _, c := range domain.AllCategories {
			view.Values[c][r.Bucket.Key] = r.Value(c).OrZero()
		}
	}
	return view
}

func newView(period domain.Period, bs []domain.Bucket) domain.PeriodSummary {
	view := domain.PeriodSummary{
		Period:  period,
		Buckets: make([]domain.BucketRef, len(bs)),
		Values:  make(map[domain.Category]map[string]float64, len(domain.AllCategories)),
	}
	for i, b := range bs {
		view.Buckets[i] = domain.BucketRef{Key: b.Key, Label: b.Label, Start: b.Start, End: b.End}
	}
	for _, c := range domain.AllCategories {
		view.Values[c] = make(map[string]float64, len(bs))
	}
	return view
}

type accumulator struct {
	sum   float64
	count int
}

// fillMonths sums additive categories and averages the rest over days with data.
func fillMonths(view domain.PeriodSummary, bs []domain.Bucket, summaries []domain.DailySummary) {
	groups := make(map[string]map[domain.Category]*accumulator)
	for _, s := range summaries {
		month := s.Date.MonthKey()
		group, ok := groups[month]
		if !ok {
			group = make(map[domain.Category]*accumulator)
			groups[month] = group
		}
		for _, c := range domain.AllCategories {
			v, ok := s.Value(c)
			if !ok {
				continue
			}
			acc, ok := group[c]
			if !ok {
				acc = &accumulator{}
				group[c] = acc
			}
			acc.sum += v
			acc.count++
		}
	}

	for _, b := range bs {
		for _, c := range domain.AllCategories {
			acc := groups[b.Key][c]
			switch {
			case acc == nil || acc.count == 0:
				view.Values[c][b.Key] = 0
			case averaged(c):
				view.Values[c][b.Key] = acc.sum / float64(acc.count)
			default:
				view.Values[c][b.Key] = acc.sum
			}
		}
	}
}

func averaged(c domain.Category) bool {
	return c == domain.CategorySleep || c == domain.CategoryHeartRate
}
