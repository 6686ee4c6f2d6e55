package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/biometrics/internal/domain"
)

const namespace = "biometrics"

var (
	refreshRunsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "refresh",
		Name:      "runs_total",
		Help:      "Number of refresh runs grouped by final status.",
	}, []string{"status"})

	refreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "refresh",
		Name:      "duration_seconds",
		Help:      "Wall time of a refresh run from fetch to the last upsert.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	datesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "refresh",
		Name:      "dates_total",
		Help:      "Number of per-date upserts grouped by result (committed or failed).",
	}, []string{"result"})

	fetchFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "source",
		Name:      "fetch_failures_total",
		Help:      "Number of record fetches that failed and were treated as empty.",
	}, []string{"category"})

	permissionFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "source",
		Name:      "permission_failures_total",
		Help:      "Number of permission lookups that failed and were treated as nothing granted.",
	})

	malformedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "aggregation",
		Name:      "malformed_records_total",
		Help:      "Number of records skipped during aggregation.",
	}, []string{"category"})

	lastRefreshGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "refresh",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent refresh that committed every date.",
	})

	summaryPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "persistence",
		Name:      "last_summary_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent daily summary upsert.",
	})
)

func init() {
	prometheus.MustRegister(
		refreshRunsCounter,
		refreshDuration,
		datesCounter,
		fetchFailureCounter,
		permissionFailureCounter,
		malformedCounter,
		lastRefreshGauge,
		summaryPersistGauge,
	)
}

// RecordRefresh counts a finished run and observes its duration.
func RecordRefresh(status domain.RefreshStatus, elapsed time.Duration, finishedAt time.Time) {
	refreshRunsCounter.WithLabelValues(string(status)).Inc()
	refreshDuration.Observe(elapsed.Seconds())
	if status == domain.RefreshCompleted && !finishedAt.IsZero() {
		lastRefreshGauge.Set(float64(finishedAt.Unix()))
	}
}

// RecordDateCommitted counts a successful upsert.
func RecordDateCommitted() {
	datesCounter.WithLabelValues("committed").Inc()
}

// RecordDateFailed counts a failed upsert.
func RecordDateFailed() {
	datesCounter.WithLabelValues("failed").Inc()
}

// RecordFetchFailure counts a failed category fetch.
func RecordFetchFailure(category domain.Category) {
	fetchFailureCounter.WithLabelValues(string(category)).Inc()
}

// RecordPermissionFailure counts a failed permission lookup.
func RecordPermissionFailure() {
	permissionFailureCounter.Inc()
}

// RecordMalformed counts n skipped records for a category.
func RecordMalformed(category domain.Category, n int) {
	if n <= 0 {
		return
	}
	malformedCounter.WithLabelValues(string(category)).Add(float64(n))
}

// RecordSummaryPersisted updates the persistence watermark gauge.
func RecordSummaryPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	summaryPersistGauge.Set(float64(ts.Unix()))
}
