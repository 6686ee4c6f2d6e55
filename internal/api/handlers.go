// Package api exposes HTTP handlers for the biometric summary service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"example.com/biometrics/internal/auth"
	"example.com/biometrics/internal/domain"
	"example.com/biometrics/internal/persistence"
	"example.com/biometrics/internal/refresh"
)

const (
	defaultPageSize = 31
	maxPageSize     = 366
)

// Viewer builds stored period views.
type Viewer interface {
	View(ctx context.Context, period domain.Period, anchor time.Time) (domain.PeriodSummary, error)
}

// Refresher runs refreshes and live intraday aggregation.
type Refresher interface {
	Refresh(ctx context.Context, req refresh.Request) (refresh.Report, error)
	LatestRefresh(ctx context.Context) (*domain.RefreshRun, error)
	Intraday(ctx context.Context, anchor time.Time) (domain.PeriodSummary, error)
}

// SummaryReader lists stored daily summaries.
type SummaryReader interface {
	Query(ctx context.Context, from, to domain.DateKey) ([]domain.DailySummary, error)
}

// Handler coordinates HTTP requests with the rollup and refresh services.
type Handler struct {
	views     Viewer
	refresher Refresher
	summaries SummaryReader
	loc       *time.Location
	now       func() time.Time
	logger    log.FieldLogger
}

// Option customises a Handler.
type Option func(*Handler)

// WithLocation sets the zone used to resolve date-only parameters.
func WithLocation(loc *time.Location) Option {
	return func(h *Handler) {
		if loc != nil {
			h.loc = loc
		}
	}
}

// WithClock overrides the default anchor source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(logger log.FieldLogger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler builds a Handler.
func NewHandler(views Viewer, refresher Refresher, summaries SummaryReader, opts ...Option) *Handler {
	h := &Handler{
		views:     views,
		refresher: refresher,
		summaries: summaries,
		loc:       time.UTC,
		now:       time.Now,
		logger:    log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/views", h.view)
	mux.HandleFunc("/v1/summaries", h.listSummaries)
	mux.HandleFunc("/v1/refresh", h.refresh)
	mux.HandleFunc("/v1/refresh/latest", h.latestRefresh)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) view(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeSummariesRead) {
		return
	}

	period, err := domain.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	anchor, err := h.parseAnchor(r.URL.Query().Get("anchor"), period)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	var summary domain.PeriodSummary
	if period == domain.PeriodDay {
		summary, err = h.refresher.Intraday(r.Context(), anchor)
	} else {
		summary, err = h.views.View(r.Context(), period, anchor)
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewResponse(summary, anchor))
}

func (h *Handler) listSummaries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeSummariesRead) {
		return
	}

	query := r.URL.Query()
	to := domain.DateOf(h.now(), h.loc)
	if raw := query.Get("to"); raw != "" {
		parsed, err := domain.ParseDateKey(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid to date")
			return
		}
		to = parsed
	}
	from := to.AddDays(-(defaultPageSize - 1))
	if raw := query.Get("from"); raw != "" {
		parsed, err := domain.ParseDateKey(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid from date")
			return
		}
		from = parsed
	}

	cursor, err := persistence.DecodeCursor(query.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}
	if cursor != "" && cursor.After(from) {
		from = cursor
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "validation_failed", "to must not be before from")
		return
	}

	limit := defaultPageSize
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxPageSize)
		}
	}

	// Query is half-open; the API's to is inclusive.
	summaries, err := h.summaries.Query(r.Context(), from, to.AddDays(1))
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	resp := ListSummariesResponse{Items: summaries}
	if len(summaries) > limit {
		resp.Items = summaries[:limit]
		resp.NextCursor = persistence.EncodeCursor(summaries[limit].Date)
	}
	if resp.Items == nil {
		resp.Items = []domain.DailySummary{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeSummariesWrite) {
		return
	}

	var req refresh.Request
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
	}

	report, err := h.refresher.Refresh(r.Context(), req)
	switch {
	case errors.Is(err, domain.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrRefreshSuperseded):
		writeJSON(w, http.StatusConflict, report)
	case report.RefreshID == "" && err != nil:
		h.serverError(w, r, err)
	case report.Status == domain.RefreshPartial:
		writeJSON(w, http.StatusMultiStatus, report)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (h *Handler) latestRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeSummariesRead) {
		return
	}

	run, err := h.refresher.LatestRefresh(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "not_found", "no refresh recorded")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// parseAnchor accepts RFC 3339 instants or plain dates. For the day period a
// date anchors at its own local midnight; otherwise at the end of that local
// day so the day itself is the last one in the window.
func (h *Handler) parseAnchor(raw string, period domain.Period) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return h.now().In(h.loc), nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.In(h.loc), nil
	}
	date, err := domain.ParseDateKey(raw)
	if err != nil {
		return time.Time{}, errors.New("anchor must be RFC 3339 or YYYY-MM-DD")
	}
	if period == domain.PeriodDay {
		return date.Start(h.loc), nil
	}
	return date.AddDays(1).Start(h.loc), nil
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if claims.Allows(scope) {
		return true
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
	return false
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	writeError(w, http.StatusInternalServerError, "server_error", err.Error())
}

// ViewResponse is the chart payload for GET /v1/views.
type ViewResponse struct {
	Period  domain.Period                            `json:"period"`
	Anchor  time.Time                                `json:"anchor"`
	Labels  []string                                 `json:"labels"`
	Buckets []domain.BucketRef                       `json:"buckets"`
	Series  map[domain.Category][]domain.SeriesPoint `json:"series"`
}

// ListSummariesResponse packages list results.
type ListSummariesResponse struct {
	Items      []domain.DailySummary `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

func toViewResponse(summary domain.PeriodSummary, anchor time.Time) ViewResponse {
	resp := ViewResponse{
		Period:  summary.Period,
		Anchor:  anchor,
		Labels:  summary.Labels(),
		Buckets: summary.Buckets,
		Series:  make(map[domain.Category][]domain.SeriesPoint, len(domain.AllCategories)),
	}
	for _, c := range domain.AllCategories {
		resp.Series[c] = summary.Series(c)
	}
	return resp
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
