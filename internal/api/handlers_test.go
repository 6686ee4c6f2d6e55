package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"example.com/biometrics/internal/auth"
	"example.com/biometrics/internal/buckets"
	"example.com/biometrics/internal/domain"
	"example.com/biometrics/internal/persistence/memory"
	"example.com/biometrics/internal/refresh"
)

var fixedNow = time.Date(2024, time.May, 15, 9, 30, 0, 0, time.UTC)

type stubViewer struct {
	period domain.Period
	anchor time.Time
	err    error
}

func (s *stubViewer) View(_ context.Context, period domain.Period, anchor time.Time) (domain.PeriodSummary, error) {
	s.period, s.anchor = period, anchor
	if s.err != nil {
		return domain.PeriodSummary{}, s.err
	}
	return domain.PeriodSummary{
		Period:  period,
		Buckets: []domain.BucketRef{{Key: "2024-05-14", Label: "Tue"}, {Key: "2024-05-15", Label: "Wed"}},
		Values: map[domain.Category]map[string]float64{
			domain.CategorySteps: {"2024-05-15": 4200},
		},
	}, nil
}

type stubRefresher struct {
	req       refresh.Request
	report    refresh.Report
	err       error
	latest    *domain.RefreshRun
	intraday  int
	dayAnchor time.Time
}

func (s *stubRefresher) Refresh(_ context.Context, req refresh.Request) (refresh.Report, error) {
	s.req = req
	return s.report, s.err
}

func (s *stubRefresher) LatestRefresh(context.Context) (*domain.RefreshRun, error) {
	return s.latest, nil
}

func (s *stubRefresher) Intraday(_ context.Context, anchor time.Time) (domain.PeriodSummary, error) {
	s.intraday++
	s.dayAnchor = anchor
	return domain.PeriodSummary{Period: domain.PeriodDay, Buckets: []domain.BucketRef{{Key: "2024-05-15T00", Label: "00:00"}}}, nil
}

func newTestHandler(views Viewer, refresher Refresher, summaries SummaryReader) *Handler {
	logger, _ := logtest.NewNullLogger()
	return NewHandler(views, refresher, summaries,
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(logger),
	)
}

func withScopes(req *http.Request, scopes ...string) *http.Request {
	claims := &auth.Claims{
		Subject:   "tester",
		Scopes:    map[string]struct{}{},
		ExpiresAt: time.Now().Add(time.Hour),
	}
	for _, s := range scopes {
		claims.Scopes[s] = struct{}{}
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestViewWeekUsesStoredRollup(t *testing.T) {
	views := &stubViewer{}
	refresher := &stubRefresher{}
	h := newTestHandler(views, refresher, memory.Open())

	req := withScopes(httptest.NewRequest(http.MethodGet, "/v1/views?period=week&anchor=2024-05-15", nil), auth.ScopeSummariesRead)
	rr := serve(h, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if views.period != domain.PeriodWeek {
		t.Fatalf("expected week period, got %q", views.period)
	}
	wantAnchor := time.Date(2024, time.May, 16, 0, 0, 0, 0, time.UTC)
	if !views.anchor.Equal(wantAnchor) {
		t.Fatalf("date anchor should resolve to the end of the day, got %s", views.anchor)
	}
	if refresher.intraday != 0 {
		t.Fatalf("week view must not hit the record source")
	}

	var resp ViewResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Join(resp.Labels, ",") != "Tue,Wed" {
		t.Fatalf("unexpected labels %v", resp.Labels)
	}
	steps := resp.Series[domain.CategorySteps]
	if len(steps) != 2 || steps[0].Value != 0 || steps[1].Value != 4200 {
		t.Fatalf("unexpected steps series %+v", steps)
	}
	if len(resp.Series[domain.CategoryHeartRate]) != 2 {
		t.Fatalf("every category should carry one point per bucket")
	}
}

func TestViewDayAggregatesLive(t *testing.T) {
	views := &stubViewer{}
	refresher := &stubRefresher{}
	h := newTestHandler(views, refresher, memory.Open())

	req := withScopes(httptest.NewRequest(http.MethodGet, "/v1/views?period=day", nil), auth.ScopeSummariesRead)
	rr := serve(h, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if refresher.intraday != 1 || !refresher.dayAnchor.Equal(fixedNow) {
		t.Fatalf("expected one intraday call anchored at now, got %d at %s", refresher.intraday, refresher.dayAnchor)
	}
	if views.period != "" {
		t.Fatalf("day view must not use the stored rollup")
	}
}

func TestViewDayDateAnchorCoversThatDay(t *testing.T) {
	views := &stubViewer{}
	refresher := &stubRefresher{}
	h := newTestHandler(views, refresher, memory.Open())

	req := withScopes(httptest.NewRequest(http.MethodGet, "/v1/views?period=day&anchor=2024-03-10", nil), auth.ScopeSummariesRead)
	rr := serve(h, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	bs, err := buckets.Generate(domain.PeriodDay, refresher.dayAnchor, time.UTC)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	if !bs[0].Start.Equal(want) {
		t.Fatalf("day view for 2024-03-10 starts at %s", bs[0].Start)
	}
	if !bs[len(bs)-1].End.Equal(want.AddDate(0, 0, 1)) {
		t.Fatalf("day view for 2024-03-10 ends at %s", bs[len(bs)-1].End)
	}

	req = withScopes(httptest.NewRequest(http.MethodGet, "/v1/views?period=week&anchor=2024-03-10", nil), auth.ScopeSummariesRead)
	if rr := serve(h, req); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if !views.anchor.Equal(want.AddDate(0, 0, 1)) {
		t.Fatalf("week anchor should be the end of 2024-03-10, got %s", views.anchor)
	}
}

func TestViewValidation(t *testing.T) {
	h := newTestHandler(&stubViewer{}, &stubRefresher{}, memory.Open())

	cases := map[string]int{
		"/v1/views?period=fortnight":              http.StatusBadRequest,
		"/v1/views?period=week&anchor=yesterday":  http.StatusBadRequest,
		"/v1/views?period=month&anchor=2024-05-1": http.StatusBadRequest,
	}
	for target, want := range cases {
		rr := serve(h, withScopes(httptest.NewRequest(http.MethodGet, target, nil), auth.ScopeSummariesRead))
		if rr.Code != want {
			t.Fatalf("%s: expected %d got %d", target, want, rr.Code)
		}
	}

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/v1/views?period=week", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without claims, got %d", rr.Code)
	}
}

func TestViewStoreFailureIsServerError(t *testing.T) {
	h := newTestHandler(&stubViewer{err: errors.New("db down")}, &stubRefresher{}, memory.Open())

	rr := serve(h, withScopes(httptest.NewRequest(http.MethodGet, "/v1/views?period=year", nil), auth.ScopeSummariesRead))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rr.Code)
	}
}

func TestListSummariesPaginates(t *testing.T) {
	ctx := context.Background()
	store := memory.Open()
	for _, date := range []domain.DateKey{"2024-05-01", "2024-05-02", "2024-05-03", "2024-05-05", "2024-05-07"} {
		if err := store.Upsert(ctx, domain.DailySummary{Date: date, Steps: domain.Some[int64](1000), Source: domain.DefaultSource, UpdatedAt: fixedNow}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	h := newTestHandler(&stubViewer{}, &stubRefresher{}, store)

	var dates []domain.DateKey
	target := "/v1/summaries?from=2024-05-02&to=2024-05-07&limit=2"
	for pages := 0; target != ""; pages++ {
		if pages > 5 {
			t.Fatalf("pagination did not terminate")
		}
		rr := serve(h, withScopes(httptest.NewRequest(http.MethodGet, target, nil), auth.ScopeSummariesRead))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
		}
		var resp ListSummariesResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Items) > 2 {
			t.Fatalf("page exceeds limit: %d", len(resp.Items))
		}
		for _, item := range resp.Items {
			dates = append(dates, item.Date)
		}
		target = ""
		if resp.NextCursor != "" {
			target = "/v1/summaries?from=2024-05-02&to=2024-05-07&limit=2&cursor=" + resp.NextCursor
		}
	}

	want := []domain.DateKey{"2024-05-02", "2024-05-03", "2024-05-05", "2024-05-07"}
	if len(dates) != len(want) {
		t.Fatalf("expected %v got %v", want, dates)
	}
	for i := range want {
		if dates[i] != want[i] {
			t.Fatalf("expected %v got %v", want, dates)
		}
	}
}

func TestListSummariesRejectsBadInput(t *testing.T) {
	h := newTestHandler(&stubViewer{}, &stubRefresher{}, memory.Open())

	for _, target := range []string{
		"/v1/summaries?cursor=Zm9v",
		"/v1/summaries?from=2024-05-09&to=2024-05-01",
		"/v1/summaries?to=May",
	} {
		rr := serve(h, withScopes(httptest.NewRequest(http.MethodGet, target, nil), auth.ScopeSummariesRead))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", target, rr.Code)
		}
	}
}

func TestRefreshStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		report refresh.Report
		err    error
		want   int
	}{
		{name: "completed", report: refresh.Report{RefreshID: "r1", Status: domain.RefreshCompleted}, want: http.StatusOK},
		{name: "partial", report: refresh.Report{RefreshID: "r2", Status: domain.RefreshPartial}, err: &domain.StorageError{Date: "2024-05-01", Err: errors.New("disk")}, want: http.StatusMultiStatus},
		{name: "superseded", report: refresh.Report{RefreshID: "r3", Status: domain.RefreshSuperseded}, err: domain.ErrRefreshSuperseded, want: http.StatusConflict},
		{name: "invalid", err: domain.ErrInvalidRange, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			refresher := &stubRefresher{report: tc.report, err: tc.err}
			h := newTestHandler(&stubViewer{}, refresher, memory.Open())

			body := strings.NewReader(`{"start_date":"2024-05-01","end_date":"2024-05-02"}`)
			req := withScopes(httptest.NewRequest(http.MethodPost, "/v1/refresh", body), auth.ScopeSummariesWrite)
			rr := serve(h, req)

			if rr.Code != tc.want {
				t.Fatalf("expected %d got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
			if refresher.req != (refresh.Request{From: "2024-05-01", To: "2024-05-02"}) {
				t.Fatalf("unexpected request %+v", refresher.req)
			}
		})
	}
}

func TestRefreshRequiresWriteScope(t *testing.T) {
	refresher := &stubRefresher{}
	h := newTestHandler(&stubViewer{}, refresher, memory.Open())

	rr := serve(h, withScopes(httptest.NewRequest(http.MethodPost, "/v1/refresh", nil), auth.ScopeSummariesRead))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}

	rr = serve(h, withScopes(httptest.NewRequest(http.MethodGet, "/v1/refresh", nil), auth.ScopeSummariesWrite))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rr.Code)
	}
}

func TestLatestRefresh(t *testing.T) {
	refresher := &stubRefresher{}
	h := newTestHandler(&stubViewer{}, refresher, memory.Open())

	rr := serve(h, withScopes(httptest.NewRequest(http.MethodGet, "/v1/refresh/latest", nil), auth.ScopeSummariesRead))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any refresh, got %d", rr.Code)
	}

	refresher.latest = &domain.RefreshRun{ID: "r9", Status: domain.RefreshPartial, Failed: 2}
	rr = serve(h, withScopes(httptest.NewRequest(http.MethodGet, "/v1/refresh/latest", nil), auth.ScopeSummariesWrite))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var run domain.RefreshRun
	if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.ID != "r9" || run.Status != domain.RefreshPartial {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestHealthzBypassesAuth(t *testing.T) {
	h := newTestHandler(&stubViewer{}, &stubRefresher{}, memory.Open())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	wrapped := auth.NewMiddleware(auth.Config{Secret: "s", Issuer: "i"}).Wrap(mux)

	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	wrapped.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/views?period=week", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}
