// Package app assembles the summary services from configuration. Both service
// binaries share it so they refresh and read through identical wiring.
package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"example.com/biometrics/internal/aggregation"
	"example.com/biometrics/internal/config"
	"example.com/biometrics/internal/domain"
	"example.com/biometrics/internal/persistence"
	"example.com/biometrics/internal/persistence/postgres"
	"example.com/biometrics/internal/refresh"
	"example.com/biometrics/internal/rollup"
	"example.com/biometrics/internal/source"
)

// Components are the long-lived services built from Config.
type Components struct {
	Store    persistence.Store
	Refresh  *refresh.Service
	Views    *rollup.Service
	Location *time.Location
}

// Option customises Build; tests use it to replace the record source.
type Option func(*builder)

type builder struct {
	fetcher domain.RecordFetcher
	gate    domain.PermissionGate
	now     func() time.Time
}

// WithSource replaces the HTTP record fetcher and permission gate.
func WithSource(fetcher domain.RecordFetcher, gate domain.PermissionGate) Option {
	return func(b *builder) {
		b.fetcher = fetcher
		b.gate = gate
	}
}

// WithClock overrides the clock used by refreshes and view caching.
func WithClock(now func() time.Time) Option {
	return func(b *builder) { b.now = now }
}

// Build opens the store and wires the refresh and rollup services. Committed
// refreshes invalidate cached views.
func Build(ctx context.Context, cfg config.Config, logger log.FieldLogger, opts ...Option) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	b := &builder{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	if b.fetcher == nil || b.gate == nil {
		b.fetcher, b.gate, err = httpSource(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	store, err := persistence.Open(ctx, persistence.Options{
		Driver:       cfg.StoreDriver,
		PostgresURL:  cfg.PostgresURL,
		SQLiteDir:    cfg.SQLiteDir,
		SummaryTopic: cfg.SummaryTopic,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}

	views := rollup.NewService(store,
		rollup.WithLocation(loc),
		rollup.WithCacheTTL(cfg.ViewCacheTTL),
		rollup.WithClock(b.now),
		rollup.WithLogger(logger),
	)

	aggregator := aggregation.New(
		aggregation.WithLogger(logger),
		aggregation.WithCollapseZero(cfg.CollapseZero),
		aggregation.WithWorkers(cfg.AggregationWorkers),
	)

	refresher := refresh.NewService(b.fetcher, b.gate, store,
		refresh.WithJournal(store),
		refresh.WithAggregator(aggregator),
		refresh.WithLocation(loc),
		refresh.WithSource(cfg.SummarySource),
		refresh.WithBackfillDays(cfg.BackfillDays),
		refresh.WithClock(b.now),
		refresh.WithLogger(logger),
		refresh.WithCommitHook(func(refresh.Report) { views.Invalidate() }),
	)

	logger.WithFields(log.Fields{
		"driver":        cfg.StoreDriver,
		"time_zone":     loc.String(),
		"backfill_days": cfg.BackfillDays,
		"collapse_zero": cfg.CollapseZero,
	}).Info("summary services ready")

	return &Components{Store: store, Refresh: refresher, Views: views, Location: loc}, nil
}

// Postgres returns the Postgres store when that driver is active. Only it
// writes outbox events.
func (c *Components) Postgres() (*postgres.Store, bool) {
	pg, ok := c.Store.(*postgres.Store)
	return pg, ok
}

// Close releases the store.
func (c *Components) Close() error {
	return c.Store.Close()
}

func httpSource(cfg config.Config, logger log.FieldLogger) (domain.RecordFetcher, domain.PermissionGate, error) {
	srcCfg := source.Config{
		BaseURL:  cfg.SourceBaseURL,
		Token:    cfg.SourceToken,
		PageSize: cfg.SourcePageSize,
		Timeout:  cfg.SourceTimeout,
	}
	fetcher := source.NewHTTPFetcher(srcCfg, source.WithLogger(logger))

	categories, err := cfg.Categories()
	if err != nil {
		return nil, nil, err
	}
	if len(categories) > 0 {
		return fetcher, source.NewStaticGate(categories...), nil
	}
	return fetcher, source.NewHTTPGate(srcCfg, source.WithLogger(logger)), nil
}
