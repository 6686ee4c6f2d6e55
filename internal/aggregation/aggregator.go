// Package aggregation attributes raw biometric records to calendar buckets.
package aggregation

import (
	"context"
	"math"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"example.com/biometrics/internal/domain"
	"example.com/biometrics/internal/observability"
)

// Records groups raw records by the category they were fetched for.
type Records map[domain.Category][]domain.RawRecord

// Result holds the per-category values computed for one bucket.
type Result struct {
	Bucket domain.Bucket
	Values map[domain.Category]domain.Optional[float64]
}

// Value returns the bucket's value for c; absent when nothing contributed.
func (r Result) Value(c domain.Category) domain.Optional[float64] {
	return r.Values[c]
}

// Aggregator turns records into bucket values. It holds no mutable state
// and is safe for concurrent use.
type Aggregator struct {
	logger       log.FieldLogger
	collapseZero bool
	workers      int
}

// Option customises an Aggregator.
type Option func(*Aggregator)

// WithLogger overrides the logger used for skipped records.
func WithLogger(logger log.FieldLogger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithCollapseZero controls whether a computed zero is reported as absent.
func WithCollapseZero(collapse bool) Option {
	return func(a *Aggregator) {
		a.collapseZero = collapse
	}
}

// WithWorkers bounds the number of buckets aggregated concurrently.
func WithWorkers(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.workers = n
		}
	}
}

// New constructs an Aggregator. Zero collapsing is on unless disabled.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		logger:       log.WithField("component", "aggregation"),
		collapseZero: true,
		workers:      runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate computes the value of every granted category for a single bucket.
func (a *Aggregator) Aggregate(bucket domain.Bucket, records Records, granted domain.CategorySet) Result {
	return a.aggregate(bucket, a.sanitize(records, granted), granted)
}

// AggregateAll aggregates each bucket on a bounded worker pool and returns the
// results in bucket order. Malformed records are reported once, not per bucket.
func (a *Aggregator) AggregateAll(ctx context.Context, buckets []domain.Bucket, records Records, granted domain.CategorySet) ([]Result, error) {
	clean := a.sanitize(records, granted)
	results := make([]Result, len(buckets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, bucket := range buckets {
		i, bucket := i, bucket
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = a.aggregate(bucket, clean, granted)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// sanitize drops ungranted categories and malformed records.
func (a *Aggregator) sanitize(records Records, granted domain.CategorySet) Records {
	clean := make(Records, len(records))
	for category, recs := range records {
		if !granted.Has(category) {
			continue
		}
		kept := make([]domain.RawRecord, 0, len(recs))
		skipped := 0
		for _, rec := range recs {
			if err := checkRecord(category, rec); err != nil {
				skipped++
				a.logger.WithFields(log.Fields{
					"category": category,
					"error":    err,
				}).Warn("skipping malformed record")
				continue
			}
			kept = append(kept, rec)
		}
		observability.RecordMalformed(category, skipped)
		clean[category] = kept
	}
	return clean
}

func checkRecord(category domain.Category, rec domain.RawRecord) error {
	if rec == nil {
		return &domain.MalformedRecordError{Category: category, Reason: errNilRecord}
	}
	if rec.Shape() != category.Shape() {
		return &domain.MalformedRecordError{Category: category, Reason: shapeMismatch{want: category.Shape(), got: rec.Shape()}}
	}
	if err := rec.Validate(); err != nil {
		return &domain.MalformedRecordError{Category: category, Reason: err}
	}
	return nil
}

func (a *Aggregator) aggregate(bucket domain.Bucket, records Records, granted domain.CategorySet) Result {
	res := Result{Bucket: bucket, Values: make(map[domain.Category]domain.Optional[float64], len(domain.AllCategories))}
	for _, category := range domain.AllCategories {
		if !granted.Has(category) {
			res.Values[category] = domain.None[float64]()
			continue
		}
		v, ok := attribute(category, bucket, records[category])
		if category == domain.CategorySteps {
			v = math.Round(v)
		}
		if !ok || (a.collapseZero && v == 0) {
			res.Values[category] = domain.None[float64]()
			continue
		}
		res.Values[category] = domain.Some(v)
	}
	return res
}

// attribute reduces one category's records to a bucket value. ok is false when
// no record contributed.
func attribute(category domain.Category, bucket domain.Bucket, records []domain.RawRecord) (float64, bool) {
	switch category.Shape() {
	case domain.ShapePoint:
		return sumPoints(bucket, records)
	case domain.ShapeInterval:
		return sumIntervals(bucket, records, intervalUnit(category))
	case domain.ShapeSample:
		return meanSamples(bucket, records)
	}
	return 0, false
}

func intervalUnit(category domain.Category) time.Duration {
	if category == domain.CategorySleep {
		return time.Hour
	}
	return time.Minute
}

func sumPoints(bucket domain.Bucket, records []domain.RawRecord) (float64, bool) {
	var (
		total float64
		hit   bool
	)
	for _, rec := range records {
		p, ok := rec.(domain.PointRecord)
		if !ok || !bucket.Contains(p.Timestamp) {
			continue
		}
		total += p.Quantity
		hit = true
	}
	return total, hit
}

// sumIntervals accumulates overlaps as integer nanoseconds so adjacent buckets
// split an interval without rounding loss.
func sumIntervals(bucket domain.Bucket, records []domain.RawRecord, unit time.Duration) (float64, bool) {
	var (
		total time.Duration
		hit   bool
	)
	for _, rec := range records {
		iv, ok := rec.(domain.IntervalRecord)
		if !ok || !iv.Start.Before(bucket.End) || !iv.End.After(bucket.Start) {
			continue
		}
		total += bucket.Overlap(iv.Start, iv.End)
		hit = true
	}
	return float64(total) / float64(unit), hit
}

func meanSamples(bucket domain.Bucket, records []domain.RawRecord) (float64, bool) {
	var (
		sum   float64
		count int
	)
	for _, rec := range records {
		s, ok := rec.(domain.SampleRecord)
		if !ok || !bucket.Contains(s.Timestamp) {
			continue
		}
		sum += s.Value
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}
