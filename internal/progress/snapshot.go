package progress

import (
	"time"

	"example.com/progress/internal/domain"
)

// Snapshot is an immutable view of every derived metric at one point in time.
// Callers always receive their own copy.
type Snapshot struct {
	Sequence         uint64
	ComputedAt       time.Time
	CurrentStreak    int
	ActiveStreak     int
	LastActivityDay  domain.Day
	TotalCompletions int
	PrimaryWindow    int
	// Coverage is keyed by window length in days, then category.
	Coverage        map[int]map[domain.Category]float64
	Consistency     map[int]float64
	Wellness        domain.WellnessProgress
	DailyProgress   float64
	WeeklyProgress  float64
	NextWeeklyReset time.Time
}

// CoverageOf returns coverage over the primary window.
func (s Snapshot) CoverageOf(category domain.Category) float64 {
	return s.Coverage[s.PrimaryWindow][category]
}

// ConsistencyScore returns consistency over the primary window.
func (s Snapshot) ConsistencyScore() float64 {
	return s.Consistency[s.PrimaryWindow]
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Coverage = make(map[int]map[domain.Category]float64, len(s.Coverage))
	for window, byCategory := range s.Coverage {
		inner := make(map[domain.Category]float64, len(byCategory))
		for c, v := range byCategory {
			inner[c] = v
		}
		out.Coverage[window] = inner
	}
	out.Consistency = make(map[int]float64, len(s.Consistency))
	for window, v := range s.Consistency {
		out.Consistency[window] = v
	}
	out.Wellness = s.Wellness.Clone()
	return out
}

func computeSnapshot(seq uint64, state domain.LedgerState, wellness domain.WellnessProgress, now time.Time, cfg *settings) *Snapshot {
	snap := &Snapshot{
		Sequence:         seq,
		ComputedAt:       now,
		CurrentStreak:    state.CurrentStreak,
		ActiveStreak:     domain.ActiveStreak(state.Streak(), cfg.calendar.DayOf(now)),
		LastActivityDay:  state.LastActivityDay,
		TotalCompletions: state.TotalCompletions,
		PrimaryWindow:    cfg.windows[0],
		Coverage:         make(map[int]map[domain.Category]float64, len(cfg.windows)),
		Consistency:      make(map[int]float64, len(cfg.windows)),
		Wellness:         make(domain.WellnessProgress),
		DailyProgress:    domain.DailyProgress(state.History, cfg.catalog, now, cfg.calendar),
		WeeklyProgress:   domain.WeeklyProgress(state.History, cfg.catalog, now, cfg.calendar),
		NextWeeklyReset:  domain.NextWeeklyReset(now, cfg.calendar),
	}
	for _, window := range cfg.windows {
		snap.Coverage[window] = domain.CoverageByCategory(state.History, cfg.catalog, window, now, cfg.calendar)
		snap.Consistency[window] = domain.ComputeConsistency(state.History, window, now, cfg.calendar)
	}
	for _, c := range cfg.catalog.WellnessTypes() {
		snap.Wellness[c] = wellness.Get(c)
	}
	return snap
}
