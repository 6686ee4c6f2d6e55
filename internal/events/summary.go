// Package events defines the payloads exchanged over Kafka.
package events

import (
	"time"

	"example.com/biometrics/internal/domain"
)

// Event types and default topics.
const (
	SummaryUpsertedType = "summary.upserted"
	SyncRequestedType   = "sync.requested"

	SummaryTopic     = "daily_summary_events"
	SyncRequestTopic = "biometric_sync_requested"
)

// SummaryUpserted is emitted whenever a daily summary is written.
type SummaryUpserted struct {
	Date            domain.DateKey           `json:"date"`
	Steps           domain.Optional[int64]   `json:"steps"`
	HydrationLiters domain.Optional[float64] `json:"hydration_liters"`
	SleepHours      domain.Optional[float64] `json:"sleep_hours"`
	ActiveMinutes   domain.Optional[float64] `json:"active_minutes"`
	HeartRateBpm    domain.Optional[float64] `json:"heart_rate_bpm"`
	Source          string                   `json:"source"`
	RefreshID       string                   `json:"refresh_id"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

// NewSummaryUpserted builds the event payload for a stored summary.
func NewSummaryUpserted(s domain.DailySummary) SummaryUpserted {
	return SummaryUpserted{
		Date:            s.Date,
		Steps:           s.Steps,
		HydrationLiters: s.HydrationLiters,
		SleepHours:      s.SleepHours,
		ActiveMinutes:   s.ActiveMinutes,
		HeartRateBpm:    s.HeartRateBpm,
		Source:          s.Source,
		RefreshID:       s.RefreshID,
		UpdatedAt:       s.UpdatedAt,
	}
}

// SyncRequested asks the service to refresh a date range. Empty dates fall
// back to the configured backfill window.
type SyncRequested struct {
	StartDate   string    `json:"start_date,omitempty"`
	EndDate     string    `json:"end_date,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}
