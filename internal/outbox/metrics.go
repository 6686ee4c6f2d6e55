package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Replay outcomes of a dead-lettered summary event.
const (
	replayRequeued    = "requeued"
	replayRescheduled = "rescheduled"
	replayQuarantined = "quarantined"
)

var (
	publishedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "biometrics",
		Subsystem: "outbox",
		Name:      "events_published_total",
		Help:      "Summary events published to Kafka, by topic and event type.",
	}, []string{"topic", "event_type"})

	deadLetteredEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "biometrics",
		Subsystem: "outbox",
		Name:      "events_dead_lettered_total",
		Help:      "Summary events moved to outbox_dlq after a failed publish, by topic and event type.",
	}, []string{"topic", "event_type"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "biometrics",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent publishing and marking one claimed outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqReplays = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "biometrics",
		Subsystem: "dlq",
		Name:      "replays_total",
		Help:      "Dead-lettered events handled by the DLQ manager, by aggregate type and outcome.",
	}, []string{"aggregate_type", "outcome"})

	dlqBacklog = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "biometrics",
		Subsystem: "dlq",
		Name:      "pending_entries",
		Help:      "Dead-lettered events awaiting replay, by aggregate type.",
	}, []string{"aggregate_type"})
)

func init() {
	prometheus.MustRegister(publishedEvents, deadLetteredEvents, batchDuration, dlqReplays, dlqBacklog)
}

func recordPublished(messages []Message) {
	for _, msg := range messages {
		publishedEvents.WithLabelValues(msg.Topic, msg.EventType).Inc()
	}
}

func recordDeadLettered(msg Message) {
	deadLetteredEvents.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordReplay(entry dlqEntry, outcome string) {
	dlqReplays.WithLabelValues(entry.AggregateType, outcome).Inc()
}

// refreshBacklog resets the backlog gauge from the unquarantined DLQ rows so
// aggregate types that drained report zero rather than a stale count.
func refreshBacklog(ctx context.Context, pool *pgxpool.Pool) error {
	rows, err := pool.Query(ctx, `SELECT aggregate_type, COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL GROUP BY aggregate_type`)
	if err != nil {
		return err
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (backlogCount, error) {
		var c backlogCount
		err := row.Scan(&c.aggregateType, &c.count)
		return c, err
	})
	if err != nil {
		return err
	}

	dlqBacklog.Reset()
	for _, c := range counts {
		dlqBacklog.WithLabelValues(c.aggregateType).Set(float64(c.count))
	}
	return nil
}

type backlogCount struct {
	aggregateType string
	count         int64
}
