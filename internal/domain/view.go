package domain

import "time"

// BucketRef describes one bucket of a PeriodSummary.
type BucketRef struct {
	Key   string    `json:"key"`
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// PeriodSummary is a chart-ready view: ordered buckets and, per category, a
// value for every bucket key. Missing data is reported as 0.
type PeriodSummary struct {
	Period  Period                          `json:"period"`
	Buckets []BucketRef                     `json:"buckets"`
	Values  map[Category]map[string]float64 `json:"values"`
}

// SeriesPoint is one ordered chart point.
type SeriesPoint struct {
	Key   string  `json:"key"`
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Labels returns the bucket labels in order. Labels may repeat.
func (p PeriodSummary) Labels() []string {
	out := make([]string, len(p.Buckets))
	for i, b := range p.Buckets {
		out[i] = b.Label
	}
	return out
}

// Series returns the category's values in bucket order.
func (p PeriodSummary) Series(c Category) []SeriesPoint {
	values := p.Values[c]
	out := make([]SeriesPoint, len(p.Buckets))
	for i, b := range p.Buckets {
		out[i] = SeriesPoint{Key: b.Key, Label: b.Label, Value: values[b.Key]}
	}
	return out
}
