package events

import "time"

// Kafka event types carried in the event_type header.
const (
	EventTypeActivityCompleted = "activity.completed"
	EventTypeWellnessCompleted = "wellness.completed"
	EventTypeProgressUpdated   = "progress.updated"
)

// CompletionReported is the wire payload for a completion arriving from
// another service.
type CompletionReported struct {
	ActivityID      string    `json:"activity_id"`
	Category        string    `json:"category"`
	CompletedAt     time.Time `json:"completed_at,omitzero"`
	DurationSeconds float64   `json:"duration_seconds"`
	Source          string    `json:"source,omitempty"`
}

// ProgressUpdated is emitted whenever the engine publishes a new snapshot.
type ProgressUpdated struct {
	SnapshotID         string             `json:"snapshot_id"`
	ComputedAt         time.Time          `json:"computed_at"`
	CurrentStreak      int                `json:"current_streak"`
	ActiveStreak       int                `json:"active_streak"`
	TotalCompletions   int                `json:"total_completions"`
	LastActivityDay    string             `json:"last_activity_day,omitempty"`
	Consistency        float64            `json:"consistency"`
	DailyProgress      float64            `json:"daily_progress"`
	WeeklyProgress     float64            `json:"weekly_progress"`
	Coverage           map[string]float64 `json:"coverage"`
	WellnessProgress   map[string]float64 `json:"wellness_progress"`
	CoverageWindowDays int                `json:"coverage_window_days"`
}
