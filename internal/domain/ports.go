package domain

import (
	"context"
	"time"
)

// RecordFetcher supplies raw records for a category whose spans intersect [start, end).
// Pagination is the implementation's concern; callers always see the full result.
type RecordFetcher interface {
	Fetch(ctx context.Context, category Category, start, end time.Time) ([]RawRecord, error)
}

// PermissionGate reports which categories the data source may supply.
type PermissionGate interface {
	GrantedCategories(ctx context.Context) (CategorySet, error)
}

// SummaryStore persists daily summaries keyed by calendar date.
// Upsert replaces any existing summary for the same date.
// Query returns summaries in [from, to) ascending by date.
type SummaryStore interface {
	Upsert(ctx context.Context, summary DailySummary) error
	Query(ctx context.Context, from, to DateKey) ([]DailySummary, error)
}

// RefreshStatus is the outcome of a refresh run.
type RefreshStatus string

const (
	RefreshRunning    RefreshStatus = "running"
	RefreshCompleted  RefreshStatus = "completed"
	RefreshPartial    RefreshStatus = "partial"
	RefreshSuperseded RefreshStatus = "superseded"
)

// RefreshRun is the journal entry written for every refresh.
type RefreshRun struct {
	ID         string        `json:"refresh_id"`
	From       DateKey       `json:"from"`
	To         DateKey       `json:"to"`
	Status     RefreshStatus `json:"status"`
	Committed  int           `json:"committed"`
	Failed     int           `json:"failed"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// RefreshJournal records refresh runs so a partially applied refresh is detectable.
type RefreshJournal interface {
	RecordRefresh(ctx context.Context, run RefreshRun) error
	LatestRefresh(ctx context.Context) (*RefreshRun, error)
}
