package rollup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"example.com/biometrics/internal/aggregation"
	"example.com/biometrics/internal/buckets"
	"example.com/biometrics/internal/domain"
)

func summary(date string, steps int64, sleep float64) domain.DailySummary {
	s := domain.DailySummary{Date: domain.MustDate(date), Source: domain.DefaultSource}
	s.Steps = domain.Some(steps)
	if sleep > 0 {
		s.SleepHours = domain.Some(sleep)
	}
	return s
}

func TestBuildWeekUsesSummaryOfBucketDate(t *testing.T) {
	anchor := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
	bs, err := buckets.Generate(domain.PeriodWeek, anchor, time.UTC)
	require.NoError(t, err)

	view := Build(domain.PeriodWeek, bs, []domain.DailySummary{
		summary("2024-05-08", 4000, 7.5),
		summary("2024-05-14", 9000, 0),
		summary("2024-05-20", 1, 1),
	})

	require.Equal(t, []string{"Wed", "Thu", "Fri", "Sat", "Sun", "Mon", "Tue"}, view.Labels())
	steps := view.Series(domain.CategorySteps)
	require.Len(t, steps, 7)
	require.Equal(t, 4000.0, steps[0].Value)
	require.Equal(t, 0.0, steps[3].Value)
	require.Equal(t, 9000.0, steps[6].Value)

	sleep := view.Series(domain.CategorySleep)
	require.Equal(t, 7.5, sleep[0].Value)
	require.Equal(t, 0.0, sleep[6].Value)
	require.Equal(t, 0.0, view.Values[domain.CategoryHeartRate]["2024-05-10"])
}

func TestBuildMonthKeepsRepeatedLabelsApart(t *testing.T) {
	anchor := time.Date(2023, 3, 3, 0, 0, 0, 0, time.UTC)
	bs, err := buckets.Generate(domain.PeriodMonth, anchor, time.UTC)
	require.NoError(t, err)
	require.Equal(t, "2023-02-01", bs[0].Key)

	view := Build(domain.PeriodMonth, bs, []domain.DailySummary{
		summary("2023-02-01", 100, 0),
		summary("2023-03-01", 200, 0),
	})

	points := view.Series(domain.CategorySteps)
	require.Equal(t, "01", points[0].Label)
	require.Equal(t, "01", points[28].Label)
	require.Equal(t, 100.0, points[0].Value)
	require.Equal(t, 200.0, points[28].Value)
}

func TestBuildYearGroupsByCalendarMonth(t *testing.T) {
	anchor := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	bs, err := buckets.Generate(domain.PeriodYear, anchor, time.UTC)
	require.NoError(t, err)

	var summaries []domain.DailySummary
	for d := domain.MustDate("2023-01-01"); d.Before("2023-03-01"); d = d.AddDays(1) {
		s := summary(string(d), 1000, 7)
		s.HeartRateBpm = domain.Some(60.0)
		if d.MonthKey() == "2023-02" {
			s.HeartRateBpm = domain.Some(70.0)
		}
		summaries = append(summaries, s)
	}
	require.Len(t, summaries, 59)

	view := Build(domain.PeriodYear, bs, summaries)

	require.Len(t, view.Buckets, 12)
	require.Equal(t, 31000.0, view.Values[domain.CategorySteps]["2023-01"])
	require.Equal(t, 28000.0, view.Values[domain.CategorySteps]["2023-02"])
	require.Equal(t, 7.0, view.Values[domain.CategorySleep]["2023-01"])
	require.Equal(t, 70.0, view.Values[domain.CategoryHeartRate]["2023-02"])
	require.Equal(t, 0.0, view.Values[domain.CategorySteps]["2022-12"])

	var span time.Duration
	for _, b := range view.Buckets {
		span += b.End.Sub(b.Start)
	}
	require.Equal(t, anchor.Sub(view.Buckets[0].Start), span)
	require.Equal(t, 59*24*time.Hour, view.Buckets[11].End.Sub(view.Buckets[10].Start))
}

func TestBuildYearAveragesOnlyDaysWithData(t *testing.T) {
	anchor := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	bs, err := buckets.Generate(domain.PeriodYear, anchor, time.UTC)
	require.NoError(t, err)

	view := Build(domain.PeriodYear, bs, []domain.DailySummary{
		summary("2024-06-01", 10, 6),
		summary("2024-06-02", 20, 0),
		summary("2024-06-03", 30, 8),
	})

	require.Equal(t, 60.0, view.Values[domain.CategorySteps]["2024-06"])
	require.Equal(t, 7.0, view.Values[domain.CategorySleep]["2024-06"])
}

func TestIntradayMapsResultsToDayBuckets(t *testing.T) {
	anchor := time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)
	bs, err := buckets.Generate(domain.PeriodDay, anchor, time.UTC)
	require.NoError(t, err)

	logger, _ := logtest.NewNullLogger()
	agg := aggregation.New(aggregation.WithLogger(logger))
	results, err := agg.AggregateAll(context.Background(), bs, aggregation.Records{
		domain.CategorySteps: {domain.PointRecord{Timestamp: anchor, Quantity: 250}},
	}, domain.NewCategorySet(domain.AllCategories...))
	require.NoError(t, err)

	view := Intraday(bs, results)

	require.Equal(t, domain.PeriodDay, view.Period)
	require.Equal(t, []string{"00:00", "04:00", "08:00", "12:00", "16:00", "20:00"}, view.Labels())
	require.Equal(t, 250.0, view.Series(domain.CategorySteps)[2].Value)
	require.Equal(t, 0.0, view.Series(domain.CategorySteps)[3].Value)
}

type stubStore struct {
	mu        sync.Mutex
	summaries []domain.DailySummary
	queries   int
	err       error
	lastFrom  domain.DateKey
	lastTo    domain.DateKey
}

func (s *stubStore) Upsert(ctx context.Context, summary domain.DailySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, summary)
	return nil
}

func (s *stubStore) Query(ctx context.Context, from, to domain.DateKey) ([]domain.DailySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	s.lastFrom, s.lastTo = from, to
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.DailySummary
	for _, sum := range s.summaries {
		if !sum.Date.Before(from) && sum.Date.Before(to) {
			out = append(out, sum)
		}
	}
	return out, nil
}

func TestServiceViewQueriesCoveredDates(t *testing.T) {
	store := &stubStore{summaries: []domain.DailySummary{summary("2024-05-14", 9000, 0)}}
	svc := NewService(store)

	view, err := svc.View(context.Background(), domain.PeriodWeek, time.Date(2024, 5, 15, 0, 0, 30, 0, time.UTC))
	require.NoError(t, err)

	require.Equal(t, domain.MustDate("2024-05-08"), store.lastFrom)
	require.Equal(t, domain.MustDate("2024-05-16"), store.lastTo)
	require.Equal(t, 9000.0, view.Values[domain.CategorySteps]["2024-05-14"])
}

func TestServiceViewKeepsSecondsOfAnchor(t *testing.T) {
	store := &stubStore{}
	svc := NewService(store, WithCacheTTL(time.Minute))
	midnight := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)

	atMidnight, err := svc.View(context.Background(), domain.PeriodWeek, midnight)
	require.NoError(t, err)
	require.Equal(t, "2024-05-14", atMidnight.Buckets[len(atMidnight.Buckets)-1].Key)

	afterMidnight, err := svc.View(context.Background(), domain.PeriodWeek, midnight.Add(30*time.Second))
	require.NoError(t, err)
	require.Equal(t, "2024-05-15", afterMidnight.Buckets[len(afterMidnight.Buckets)-1].Key)
	require.Equal(t, 2, store.queries)
}

func TestServiceCachesUntilInvalidated(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	store := &stubStore{}
	svc := NewService(store, WithCacheTTL(time.Minute), WithClock(func() time.Time { return now }))
	anchor := time.Date(2024, 5, 15, 11, 0, 0, 0, time.UTC)

	_, err := svc.View(context.Background(), domain.PeriodMonth, anchor)
	require.NoError(t, err)
	_, err = svc.View(context.Background(), domain.PeriodMonth, anchor.Add(20*time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, store.queries)

	svc.Invalidate()
	_, err = svc.View(context.Background(), domain.PeriodMonth, anchor)
	require.NoError(t, err)
	require.Equal(t, 2, store.queries)

	now = now.Add(2 * time.Minute)
	_, err = svc.View(context.Background(), domain.PeriodMonth, anchor)
	require.NoError(t, err)
	require.Equal(t, 3, store.queries)
}

func TestServiceDoesNotCacheErrors(t *testing.T) {
	store := &stubStore{err: errors.New("db down")}
	svc := NewService(store, WithCacheTTL(time.Minute))
	anchor := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)

	_, err := svc.View(context.Background(), domain.PeriodYear, anchor)
	require.ErrorContains(t, err, "db down")

	store.err = nil
	_, err = svc.View(context.Background(), domain.PeriodYear, anchor)
	require.NoError(t, err)
	require.Equal(t, 2, store.queries)
}

func TestServiceRejectsUnknownPeriod(t *testing.T) {
	svc := NewService(&stubStore{})
	_, err := svc.View(context.Background(), domain.Period("decade"), time.Now())
	require.ErrorIs(t, err, domain.ErrUnknownPeriod)
}
