// Package postgres is the pgx-backed summary store. Every upsert records a
// summary.upserted outbox event in the same transaction.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/biometrics/internal/domain"
	"example.com/biometrics/internal/events"
	"example.com/biometrics/internal/observability"
)

// Store provides Postgres-backed persistence for daily summaries, refresh runs
// and outbox events.
type Store struct {
	pool    *pgxpool.Pool
	catalog map[string]EventMetadata
}

// Option customises the Store.
type Option func(*Store)

// WithSummaryTopic overrides the topic summary events are routed to.
func WithSummaryTopic(topic string) Option {
	return func(s *Store) {
		if topic == "" {
			return
		}
		meta := s.catalog[events.SummaryUpsertedType]
		meta.Topic = topic
		s.catalog[events.SummaryUpsertedType] = meta
	}
}

// Open connects a pool to url and verifies connectivity.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool, opts...), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, catalog: defaultCatalog()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pool exposes the underlying pool for the outbox dispatcher.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Upsert writes the summary for its date, replacing any prior row, and records
// the outbox event inside the same transaction.
func (s *Store) Upsert(ctx context.Context, summary domain.DailySummary) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const upsert = `INSERT INTO daily_summaries (summary_date, steps, hydration_liters, sleep_hours, active_minutes, heart_rate_bpm, source, refresh_id, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (summary_date) DO UPDATE SET
            steps = EXCLUDED.steps,
            hydration_liters = EXCLUDED.hydration_liters,
            sleep_hours = EXCLUDED.sleep_hours,
            active_minutes = EXCLUDED.active_minutes,
            heart_rate_bpm = EXCLUDED.heart_rate_bpm,
            source = EXCLUDED.source,
            refresh_id = EXCLUDED.refresh_id,
            updated_at = EXCLUDED.updated_at`

	_, err = tx.Exec(ctx, upsert,
		summary.Date.Start(time.UTC),
		nullable(summary.Steps),
		nullable(summary.HydrationLiters),
		nullable(summary.SleepHours),
		nullable(summary.ActiveMinutes),
		nullable(summary.HeartRateBpm),
		summary.Source,
		summary.RefreshID,
		summary.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if err = s.insertOutbox(ctx, tx, summary, events.SummaryUpsertedType, events.NewSummaryUpserted(summary)); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordSummaryPersisted(summary.UpdatedAt)
	return nil
}

func (s *Store) insertOutbox(ctx context.Context, tx pgx.Tx, summary domain.DailySummary, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta := s.catalog[eventType]
	if meta.Topic == "" {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	partitionKey := meta.PartitionKeyFn(summary)
	dedupeKey := fmt.Sprintf("%s:%s:%s", summary.Date, summary.RefreshID, eventType)

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err = tx.Exec(ctx, stmt,
		"daily_summary",
		string(summary.Date),
		eventType,
		meta.Topic,
		partitionKey,
		body,
		dedupeKey,
	)
	return err
}

// Query returns summaries with from <= date < to in ascending date order.
func (s *Store) Query(ctx context.Context, from, to domain.DateKey) ([]domain.DailySummary, error) {
	const query = `SELECT summary_date, steps, hydration_liters, sleep_hours, active_minutes, heart_rate_bpm, source, refresh_id, updated_at
        FROM daily_summaries
        WHERE summary_date >= $1 AND summary_date < $2
        ORDER BY summary_date`

	rows, err := s.pool.Query(ctx, query, from.Start(time.UTC), to.Start(time.UTC))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.DailySummary, 0)
	for rows.Next() {
		var (
			date      time.Time
			steps     *int64
			hydration *float64
			sleep     *float64
			active    *float64
			heartRate *float64
			summary   domain.DailySummary
		)
		if err := rows.Scan(&date, &steps, &hydration, &sleep, &active, &heartRate, &summary.Source, &summary.RefreshID, &summary.UpdatedAt); err != nil {
			return nil, err
		}
		summary.Date = domain.DateOf(date, time.UTC)
		summary.Steps = fromPtr(steps)
		summary.HydrationLiters = fromPtr(hydration)
		summary.SleepHours = fromPtr(sleep)
		summary.ActiveMinutes = fromPtr(active)
		summary.HeartRateBpm = fromPtr(heartRate)
		summary.UpdatedAt = summary.UpdatedAt.UTC()
		results = append(results, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// RecordRefresh inserts or updates a refresh run.
func (s *Store) RecordRefresh(ctx context.Context, run domain.RefreshRun) error {
	const stmt = `INSERT INTO refresh_runs (refresh_id, range_from, range_to, status, committed, failed, started_at, finished_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (refresh_id) DO UPDATE SET
            status = EXCLUDED.status,
            committed = EXCLUDED.committed,
            failed = EXCLUDED.failed,
            finished_at = EXCLUDED.finished_at`

	var finished *time.Time
	if !run.FinishedAt.IsZero() {
		finished = &run.FinishedAt
	}
	_, err := s.pool.Exec(ctx, stmt,
		run.ID,
		run.From.Start(time.UTC),
		run.To.Start(time.UTC),
		string(run.Status),
		run.Committed,
		run.Failed,
		run.StartedAt,
		finished,
	)
	return err
}

// LatestRefresh returns the most recently started run, or nil when none exist.
func (s *Store) LatestRefresh(ctx context.Context) (*domain.RefreshRun, error) {
	const query = `SELECT refresh_id, range_from, range_to, status, committed, failed, started_at, finished_at
        FROM refresh_runs ORDER BY started_at DESC LIMIT 1`

	var (
		run      domain.RefreshRun
		from, to time.Time
		status   string
		finished *time.Time
	)
	err := s.pool.QueryRow(ctx, query).Scan(&run.ID, &from, &to, &status, &run.Committed, &run.Failed, &run.StartedAt, &finished)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.From = domain.DateOf(from, time.UTC)
	run.To = domain.DateOf(to, time.UTC)
	run.Status = domain.RefreshStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	if finished != nil {
		run.FinishedAt = finished.UTC()
	}
	return &run, nil
}

func nullable[T int64 | float64](o domain.Optional[T]) any {
	v, ok := o.Get()
	if !ok {
		return nil
	}
	return v
}

func fromPtr[T int64 | float64](v *T) domain.Optional[T] {
	if v == nil {
		return domain.None[T]()
	}
	return domain.Some(*v)
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	PartitionKeyFn func(domain.DailySummary) string
}

func defaultCatalog() map[string]EventMetadata {
	return map[string]EventMetadata{
		events.SummaryUpsertedType: {
			Topic: events.SummaryTopic,
			PartitionKeyFn: func(s domain.DailySummary) string {
				return string(s.Date)
			},
		},
	}
}
