package domain

import (
	"math"
	"time"
)

// DefaultSource labels summaries produced from the platform health store.
const DefaultSource = "Health Connect"

// DailySummary is the persisted per-date aggregate. At most one exists per Date.
type DailySummary struct {
	Date            DateKey           `json:"date"`
	Steps           Optional[int64]   `json:"steps"`
	HydrationLiters Optional[float64] `json:"hydration_liters"`
	SleepHours      Optional[float64] `json:"sleep_hours"`
	ActiveMinutes   Optional[float64] `json:"active_minutes"`
	HeartRateBpm    Optional[float64] `json:"heart_rate_bpm"`
	Source          string            `json:"source"`
	RefreshID       string            `json:"refresh_id,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Value returns the category's field as a float.
func (s DailySummary) Value(c Category) (float64, bool) {
	switch c {
	case CategorySteps:
		v, ok := s.Steps.Get()
		return float64(v), ok
	case CategoryHydration:
		return s.HydrationLiters.Get()
	case CategorySleep:
		return s.SleepHours.Get()
	case CategoryExercise:
		return s.ActiveMinutes.Get()
	case CategoryHeartRate:
		return s.HeartRateBpm.Get()
	}
	return 0, false
}

// Set assigns the category's field. Step counts are rounded to whole steps.
func (s *DailySummary) Set(c Category, v Optional[float64]) {
	switch c {
	case CategorySteps:
		if f, ok := v.Get(); ok {
			s.Steps = Some(int64(math.Round(f)))
		} else {
			s.Steps = None[int64]()
		}
	case CategoryHydration:
		s.HydrationLiters = v
	case CategorySleep:
		s.SleepHours = v
	case CategoryExercise:
		s.ActiveMinutes = v
	case CategoryHeartRate:
		s.HeartRateBpm = v
	}
}

// Empty reports whether no category has data.
func (s DailySummary) Empty() bool {
	for _, c := range AllCategories {
		if _, ok := s.Value(c); ok {
			return false
		}
	}
	return true
}
