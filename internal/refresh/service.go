// Package refresh orchestrates a summary refresh: permission lookup, concurrent
// record fetches, per-day aggregation and date-by-date upserts.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"example.com/biometrics/internal/aggregation"
	"example.com/biometrics/internal/buckets"
	"example.com/biometrics/internal/domain"
	"example.com/biometrics/internal/observability"
	"example.com/biometrics/internal/rollup"
)

// DefaultBackfillDays is the window refreshed when no range is requested.
const DefaultBackfillDays = 360

// Request selects the dates to refresh. Empty bounds fall back to the
// backfill window ending today.
type Request struct {
	From domain.DateKey `json:"start_date,omitempty"`
	To   domain.DateKey `json:"end_date,omitempty"`
}

// DateFailure records a date whose summary could not be stored.
type DateFailure struct {
	Date  domain.DateKey `json:"date"`
	Error string         `json:"error"`
}

// Report summarises a finished refresh.
type Report struct {
	RefreshID  string               `json:"refresh_id"`
	From       domain.DateKey       `json:"from"`
	To         domain.DateKey       `json:"to"`
	Status     domain.RefreshStatus `json:"status"`
	Granted    []domain.Category    `json:"granted"`
	Committed  []domain.DateKey     `json:"committed"`
	Failed     []DateFailure        `json:"failed"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
}

// Service runs refreshes against a record source and a summary store.
type Service struct {
	fetcher      domain.RecordFetcher
	gate         domain.PermissionGate
	store        domain.SummaryStore
	journal      domain.RefreshJournal
	aggregator   *aggregation.Aggregator
	loc          *time.Location
	source       string
	backfillDays int
	now          func() time.Time
	newID        func() string
	logger       log.FieldLogger
	hooks        []func(Report)

	locks *dateLocks

	mu       sync.Mutex
	inflight map[string]*flight
}

type flight struct {
	from, to domain.DateKey
	cancel   context.CancelCauseFunc
}

// Option customises the Service.
type Option func(*Service)

// WithJournal records every run in journal.
func WithJournal(journal domain.RefreshJournal) Option {
	return func(s *Service) { s.journal = journal }
}

// WithAggregator overrides the aggregator.
func WithAggregator(agg *aggregation.Aggregator) Option {
	return func(s *Service) {
		if agg != nil {
			s.aggregator = agg
		}
	}
}

// WithLocation sets the time zone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithSource sets the Source label written on summaries.
func WithSource(source string) Option {
	return func(s *Service) {
		if source != "" {
			s.source = source
		}
	}
}

// WithBackfillDays sets the default window length.
func WithBackfillDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.backfillDays = days
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides refresh id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithLogger overrides the service logger.
func WithLogger(logger log.FieldLogger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCommitHook registers fn to run after a refresh that committed at least one date.
func WithCommitHook(fn func(Report)) Option {
	return func(s *Service) {
		if fn != nil {
			s.hooks = append(s.hooks, fn)
		}
	}
}

// NewService constructs a Service.
func NewService(fetcher domain.RecordFetcher, gate domain.PermissionGate, store domain.SummaryStore, opts ...Option) *Service {
	s := &Service{
		fetcher:      fetcher,
		gate:         gate,
		store:        store,
		aggregator:   aggregation.New(),
		loc:          time.UTC,
		source:       domain.DefaultSource,
		backfillDays: DefaultBackfillDays,
		now:          time.Now,
		newID:        uuid.NewString,
		logger:       log.WithField("component", "refresh"),
		locks:        newDateLocks(),
		inflight:     make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve fills empty request bounds from the backfill window.
func (s *Service) Resolve(req Request) (Request, error) {
	to := req.To
	if to == "" {
		to = domain.DateOf(s.now(), s.loc)
	}
	from := req.From
	if from == "" {
		from = to.AddDays(-(s.backfillDays - 1))
	}
	if _, err := domain.ParseDateKey(string(from)); err != nil {
		return Request{}, fmt.Errorf("%w: %v", domain.ErrInvalidRange, err)
	}
	if _, err := domain.ParseDateKey(string(to)); err != nil {
		return Request{}, fmt.Errorf("%w: %v", domain.ErrInvalidRange, err)
	}
	if to.Before(from) {
		return Request{}, fmt.Errorf("%w: %s is before %s", domain.ErrInvalidRange, to, from)
	}
	return Request{From: from, To: to}, nil
}

// Refresh recomputes and stores the summary of every date in the request.
// Dates commit one at a time in ascending order and are never rolled back.
// When any date fails the returned error joins the per-date StorageErrors.
// A newer overlapping refresh cancels this one before its next write, in
// which case the error is ErrRefreshSuperseded.
func (s *Service) Refresh(ctx context.Context, req Request) (Report, error) {
	req, err := s.Resolve(req)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		RefreshID: s.newID(),
		From:      req.From,
		To:        req.To,
		Status:    domain.RefreshRunning,
		Committed: []domain.DateKey{},
		Failed:    []DateFailure{},
		StartedAt: s.now().UTC(),
	}
	logger := s.logger.WithFields(log.Fields{
		"refresh_id": report.RefreshID,
		"from":       req.From,
		"to":         req.To,
	})

	ctx, release := s.register(ctx, report.RefreshID, req)
	defer release()

	s.journalRun(ctx, report, logger)

	err = s.run(ctx, &report, logger)

	report.FinishedAt = s.now().UTC()
	switch {
	case errors.Is(err, domain.ErrRefreshSuperseded):
		report.Status = domain.RefreshSuperseded
	case err != nil || len(report.Failed) > 0:
		report.Status = domain.RefreshPartial
	default:
		report.Status = domain.RefreshCompleted
	}
	s.journalRun(ctx, report, logger)
	observability.RecordRefresh(report.Status, report.FinishedAt.Sub(report.StartedAt), report.FinishedAt)

	if len(report.Committed) > 0 {
		for _, hook := range s.hooks {
			hook(report)
		}
	}

	logger.WithFields(log.Fields{
		"status":    report.Status,
		"committed": len(report.Committed),
		"failed":    len(report.Failed),
	}).Info("refresh finished")
	return report, err
}

func (s *Service) run(ctx context.Context, report *Report, logger log.FieldLogger) error {
	days, err := buckets.Days(report.From, report.To, s.loc)
	if err != nil {
		return err
	}

	granted := s.granted(ctx, logger)
	report.Granted = granted.Sorted()

	records := s.fetchAll(ctx, granted, days[0].Start, days[len(days)-1].End, logger)
	if err := stopped(ctx); err != nil {
		return err
	}

	results, err := s.aggregator.AggregateAll(ctx, days, records, granted)
	if err != nil {
		if cause := stopped(ctx); cause != nil {
			return cause
		}
		return err
	}

	var storageErrs []error
	for _, res := range results {
		if err := stopped(ctx); err != nil {
			return errors.Join(append(storageErrs, err)...)
		}

		summary := s.summarise(res, report.RefreshID)
		stop, err := s.upsert(ctx, summary)
		if stop != nil {
			return errors.Join(append(storageErrs, stop)...)
		}
		if err != nil {
			storageErr := &domain.StorageError{Date: summary.Date, Err: err}
			storageErrs = append(storageErrs, storageErr)
			report.Failed = append(report.Failed, DateFailure{Date: summary.Date, Error: err.Error()})
			observability.RecordDateFailed()
			logger.WithFields(log.Fields{"date": summary.Date, "error": err}).Error("failed to store daily summary")
			continue
		}
		report.Committed = append(report.Committed, summary.Date)
		observability.RecordDateCommitted()
	}
	return errors.Join(storageErrs...)
}

// register records the run as in flight and supersedes overlapping runs.
func (s *Service) register(parent context.Context, id string, req Request) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)

	s.mu.Lock()
	for otherID, other := range s.inflight {
		if overlaps(other.from, other.to, req.From, req.To) {
			s.logger.WithFields(log.Fields{
				"refresh_id":    otherID,
				"superseded_by": id,
			}).Warn("superseding in-flight refresh")
			other.cancel(domain.ErrRefreshSuperseded)
			delete(s.inflight, otherID)
		}
	}
	s.inflight[id] = &flight{from: req.From, to: req.To, cancel: cancel}
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
		cancel(nil)
	}
}

// overlaps reports whether the inclusive date ranges share a date.
func overlaps(aFrom, aTo, bFrom, bTo domain.DateKey) bool {
	return !aTo.Before(bFrom) && !bTo.Before(aFrom)
}

// stopped returns the cancellation cause once ctx is done.
func stopped(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}

func (s *Service) granted(ctx context.Context, logger log.FieldLogger) domain.CategorySet {
	granted, err := s.gate.GrantedCategories(ctx)
	if err != nil {
		observability.RecordPermissionFailure()
		logger.WithError(err).Warn("permission lookup failed; treating every category as not granted")
		return domain.CategorySet{}
	}
	return granted
}

// fetchAll fetches every granted category concurrently. A failed category is
// logged, counted and treated as empty; it never cancels its siblings.
func (s *Service) fetchAll(ctx context.Context, granted domain.CategorySet, start, end time.Time, logger log.FieldLogger) aggregation.Records {
	var (
		mu      sync.Mutex
		records = make(aggregation.Records, len(granted))
		g       errgroup.Group
	)
	for _, category := range granted.Sorted() {
		category := category
		g.Go(func() error {
			recs, err := s.fetcher.Fetch(ctx, category, start, end)
			if err != nil {
				var fetchErr *domain.FetchError
				if !errors.As(err, &fetchErr) {
					err = &domain.FetchError{Category: category, Err: err}
				}
				observability.RecordFetchFailure(category)
				logger.WithFields(log.Fields{"category": category, "error": err}).Warn("fetch failed; treating category as empty")
				recs = nil
			}
			mu.Lock()
			records[category] = recs
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return records
}

func (s *Service) summarise(res aggregation.Result, refreshID string) domain.DailySummary {
	summary := domain.DailySummary{
		Date:      buckets.DateOf(res.Bucket),
		Source:    s.source,
		RefreshID: refreshID,
		UpdatedAt: s.now().UTC(),
	}
	for _, c := range domain.AllCategories {
		summary.Set(c, res.Value(c))
	}
	return summary
}

// upsert holds the date lock for the write. A refresh stopped while waiting
// for the lock skips the write and gets the stop cause back; a write that has
// started runs to completion even if the refresh is superseded meanwhile.
func (s *Service) upsert(ctx context.Context, summary domain.DailySummary) (stop, err error) {
	unlock := s.locks.lock(summary.Date)
	defer unlock()
	if cause := stopped(ctx); cause != nil {
		return cause, nil
	}
	return nil, s.store.Upsert(context.WithoutCancel(ctx), summary)
}

func (s *Service) journalRun(ctx context.Context, report Report, logger log.FieldLogger) {
	if s.journal == nil {
		return
	}
	run := domain.RefreshRun{
		ID:         report.RefreshID,
		From:       report.From,
		To:         report.To,
		Status:     report.Status,
		Committed:  len(report.Committed),
		Failed:     len(report.Failed),
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}
	if err := s.journal.RecordRefresh(context.WithoutCancel(ctx), run); err != nil {
		logger.WithError(err).Warn("failed to journal refresh run")
	}
}

// LatestRefresh returns the most recent journaled run, or nil without a journal.
func (s *Service) LatestRefresh(ctx context.Context) (*domain.RefreshRun, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.LatestRefresh(ctx)
}

// Intraday aggregates the anchor's local day into 4-hour buckets straight from
// the record source, without touching the store.
func (s *Service) Intraday(ctx context.Context, anchor time.Time) (domain.PeriodSummary, error) {
	bs, err := buckets.Generate(domain.PeriodDay, anchor, s.loc)
	if err != nil {
		return domain.PeriodSummary{}, err
	}
	logger := s.logger.WithField("anchor", anchor)
	granted := s.granted(ctx, logger)
	records := s.fetchAll(ctx, granted, bs[0].Start, bs[len(bs)-1].End, logger)
	results, err := s.aggregator.AggregateAll(ctx, bs, records, granted)
	if err != nil {
		return domain.PeriodSummary{}, err
	}
	return rollup.Intraday(bs, results), nil
}
