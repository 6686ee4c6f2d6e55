// Package sqlite is the embedded single-file summary store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"example.com/biometrics/internal/domain"
)

// FileName is the database file created inside the data directory.
const FileName = "biometrics.db"

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Store persists daily summaries and refresh runs in SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates or opens the database in dataDir and applies migrations.
func Open(dataDir string) (*Store, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Infof("summary store initialized at %s", dbPath)
	return &Store{db: db, dbPath: dbPath}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func verifyWALMode(db *sql.DB) error {
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("failed to read journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("expected WAL journal mode, got %q", mode)
	}
	return nil
}

func getUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read user_version: %w", err)
	}
	return version, nil
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := getUserVersion(db)
	if err != nil {
		return err
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS daily_summaries (
		  summary_date      TEXT PRIMARY KEY,
		  steps             INTEGER,
		  hydration_liters  REAL,
		  sleep_hours       REAL,
		  active_minutes    REAL,
		  heart_rate_bpm    REAL,
		  source            TEXT NOT NULL,
		  refresh_id        TEXT NOT NULL DEFAULT '',
		  updated_at        INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS refresh_runs (
		  refresh_id   TEXT PRIMARY KEY,
		  range_from   TEXT NOT NULL,
		  range_to     TEXT NOT NULL,
		  status       TEXT NOT NULL,
		  committed    INTEGER NOT NULL DEFAULT 0,
		  failed       INTEGER NOT NULL DEFAULT 0,
		  started_at   INTEGER NOT NULL,
		  finished_at  INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_refresh_runs_started
		ON refresh_runs(started_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", 1)); err != nil {
			return fmt.Errorf("failed to set user_version: %w", err)
		}
	}

	return nil
}

// Upsert replaces the summary stored for the same date.
func (s *Store) Upsert(ctx context.Context, summary domain.DailySummary) error {
	const stmt = `INSERT INTO daily_summaries
		(summary_date, steps, hydration_liters, sleep_hours, active_minutes, heart_rate_bpm, source, refresh_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(summary_date) DO UPDATE SET
		  steps = excluded.steps,
		  hydration_liters = excluded.hydration_liters,
		  sleep_hours = excluded.sleep_hours,
		  active_minutes = excluded.active_minutes,
		  heart_rate_bpm = excluded.heart_rate_bpm,
		  source = excluded.source,
		  refresh_id = excluded.refresh_id,
		  updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, stmt,
		string(summary.Date),
		nullable(summary.Steps),
		nullable(summary.HydrationLiters),
		nullable(summary.SleepHours),
		nullable(summary.ActiveMinutes),
		nullable(summary.HeartRateBpm),
		summary.Source,
		summary.RefreshID,
		summary.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert summary %s: %w", summary.Date, err)
	}
	return nil
}

// Query returns summaries with from <= date < to in ascending date order.
func (s *Store) Query(ctx context.Context, from, to domain.DateKey) ([]domain.DailySummary, error) {
	const query = `SELECT summary_date, steps, hydration_liters, sleep_hours, active_minutes, heart_rate_bpm, source, refresh_id, updated_at
		FROM daily_summaries
		WHERE summary_date >= ? AND summary_date < ?
		ORDER BY summary_date`

	rows, err := s.db.QueryContext(ctx, query, string(from), string(to))
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DailySummary, 0)
	for rows.Next() {
		var (
			date      string
			steps     sql.NullInt64
			hydration sql.NullFloat64
			sleep     sql.NullFloat64
			active    sql.NullFloat64
			heartRate sql.NullFloat64
			updatedAt int64
			summary   domain.DailySummary
		)
		if err := rows.Scan(&date, &steps, &hydration, &sleep, &active, &heartRate, &summary.Source, &summary.RefreshID, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summary.Date = domain.DateKey(date)
		summary.Steps = fromNullInt(steps)
		summary.HydrationLiters = fromNullFloat(hydration)
		summary.SleepHours = fromNullFloat(sleep)
		summary.ActiveMinutes = fromNullFloat(active)
		summary.HeartRateBpm = fromNullFloat(heartRate)
		summary.UpdatedAt = time.Unix(0, updatedAt).UTC()
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordRefresh inserts or updates a refresh run.
func (s *Store) RecordRefresh(ctx context.Context, run domain.RefreshRun) error {
	const stmt = `INSERT INTO refresh_runs (refresh_id, range_from, range_to, status, committed, failed, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(refresh_id) DO UPDATE SET
		  status = excluded.status,
		  committed = excluded.committed,
		  failed = excluded.failed,
		  finished_at = excluded.finished_at`

	var finished any
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UnixNano()
	}
	_, err := s.db.ExecContext(ctx, stmt,
		run.ID, string(run.From), string(run.To), string(run.Status),
		run.Committed, run.Failed, run.StartedAt.UnixNano(), finished,
	)
	if err != nil {
		return fmt.Errorf("record refresh %s: %w", run.ID, err)
	}
	return nil
}

// LatestRefresh returns the most recently started run, or nil when none exist.
func (s *Store) LatestRefresh(ctx context.Context) (*domain.RefreshRun, error) {
	const query = `SELECT refresh_id, range_from, range_to, status, committed, failed, started_at, finished_at
		FROM refresh_runs ORDER BY started_at DESC LIMIT 1`

	var (
		run      domain.RefreshRun
		from, to string
		status   string
		started  int64
		finished sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, query).Scan(&run.ID, &from, &to, &status, &run.Committed, &run.Failed, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest refresh: %w", err)
	}
	run.From = domain.DateKey(from)
	run.To = domain.DateKey(to)
	run.Status = domain.RefreshStatus(status)
	run.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		run.FinishedAt = time.Unix(0, finished.Int64).UTC()
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

func fromNullInt(v sql.NullInt64) domain.Optional[int64] {
	if !v.Valid {
		return domain.None[int64]()
	}
	return domain.Some(v.Int64)
}

func fromNullFloat(v sql.NullFloat64) domain.Optional[float64] {
	if !v.Valid {
		return domain.None[float64]()
	}
	return domain.Some(v.Float64)
}
