package rollup

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"example.com/biometrics/internal/buckets"
	"example.com/biometrics/internal/domain"
)

// Service serves period views from the summary store.
type Service struct {
	store  domain.SummaryStore
	loc    *time.Location
	cache  *viewCache
	logger log.FieldLogger
}

// Option customises the Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	loc    *time.Location
	ttl    time.Duration
	now    func() time.Time
	logger log.FieldLogger
}

// WithLocation sets the time zone used for calendar arithmetic.
func WithLocation(loc *time.Location) Option {
	return func(o *serviceOptions) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithCacheTTL enables view caching. A non-positive TTL disables it.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *serviceOptions) {
		o.ttl = ttl
	}
}

// WithClock overrides the clock used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger overrides the service logger.
func WithLogger(logger log.FieldLogger) Option {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewService constructs a rollup service over store.
func NewService(store domain.SummaryStore, opts ...Option) *Service {
	o := serviceOptions{
		loc:    time.UTC,
		now:    time.Now,
		logger: log.WithField("component", "rollup"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{
		store:  store,
		loc:    o.loc,
		cache:  newViewCache(o.ttl, o.now),
		logger: o.logger,
	}
}

// View plans the period's buckets ending at anchor, loads the covered daily
// summaries and builds the view. Loaded summaries are cached by date span.
func (s *Service) View(ctx context.Context, period domain.Period, anchor time.Time) (domain.PeriodSummary, error) {
	bs, err := buckets.Generate(period, anchor, s.loc)
	if err != nil {
		return domain.PeriodSummary{}, err
	}
	from, to := buckets.Span(bs)
	summaries, err := s.cache.get(string(from)+"|"+string(to), func() ([]domain.DailySummary, error) {
		summaries, err := s.store.Query(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("query summaries %s..%s: %w", from, to, err)
		}
		return summaries, nil
	})
	if err != nil {
		return domain.PeriodSummary{}, err
	}
	s.logger.WithFields(log.Fields{
		"period":    period,
		"from":      from,
		"to":        to,
		"summaries": len(summaries),
	}).Debug("built rollup view")
	return Build(period, bs, summaries), nil
}

// Invalidate drops cached views; called after summaries change.
func (s *Service) Invalidate() {
	s.cache.clear()
}
