// Package memory provides a map-backed summary store for tests and local runs.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"example.com/biometrics/internal/domain"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("memory store closed")

// Store keeps summaries and refresh runs in process memory.
type Store struct {
	mu        sync.RWMutex
	summaries map[domain.DateKey]domain.DailySummary
	runs      map[string]domain.RefreshRun
	latest    string
	closed    bool
}

// Open returns an empty store.
func Open() *Store {
	return &Store{
		summaries: make(map[domain.DateKey]domain.DailySummary),
		runs:      make(map[string]domain.RefreshRun),
	}
}

// Close releases the store. Later calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Upsert replaces the summary stored for the same date.
func (s *Store) Upsert(ctx context.Context, summary domain.DailySummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.summaries[summary.Date] = summary
	return nil
}

// Query returns summaries with from <= date < to in ascending date order.
func (s *Store) Query(ctx context.Context, from, to domain.DateKey) ([]domain.DailySummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]domain.DailySummary, 0)
	for date, summary := range s.summaries {
		if !date.Before(from) && date.Before(to) {
			out = append(out, summary)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// RecordRefresh inserts or updates a refresh run.
func (s *Store) RecordRefresh(ctx context.Context, run domain.RefreshRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	latest, ok := s.runs[s.latest]
	if !ok || !run.StartedAt.Before(latest.StartedAt) {
		s.latest = run.ID
	}
	s.runs[run.ID] = run
	return nil
}

// LatestRefresh returns the most recently started run, or nil when none exist.
func (s *Store) LatestRefresh(ctx context.Context) (*domain.RefreshRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	run, ok := s.runs[s.latest]
	if !ok {
		return nil, nil
	}
	return &run, nil
}
