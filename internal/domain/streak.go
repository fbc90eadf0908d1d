package domain

// StreakState is the part of LedgerState the streak calculator reads and writes.
type StreakState struct {
	LastActivityDay Day
	CurrentStreak   int
}

// StreakTransition describes what ComputeStreak did.
type StreakTransition string

const (
	StreakStarted   StreakTransition = "started"
	StreakExtended  StreakTransition = "extended"
	StreakReset     StreakTransition = "reset"
	StreakUnchanged StreakTransition = "unchanged"
	// StreakBackdated marks a completion for a day before the last activity
	// day. The streak is left untouched.
	StreakBackdated StreakTransition = "backdated"
)

// ComputeStreak folds newDay into prev using calendar-day differences.
func ComputeStreak(prev StreakState, newDay Day) (StreakState, StreakTransition) {
	if prev.LastActivityDay.IsZero() {
		return StreakState{LastActivityDay: newDay, CurrentStreak: 1}, StreakStarted
	}
	if newDay == prev.LastActivityDay {
		return prev, StreakUnchanged
	}

	gap := DaysBetween(prev.LastActivityDay, newDay)
	switch {
	case gap == 1:
		return StreakState{LastActivityDay: newDay, CurrentStreak: prev.CurrentStreak + 1}, StreakExtended
	case gap > 1:
		return StreakState{LastActivityDay: newDay, CurrentStreak: 1}, StreakReset
	default:
		return prev, StreakBackdated
	}
}

// ActiveStreak is the streak as a display should show it on today: the stored
// streak while the last activity was today or yesterday, 0 once a full day
// has been missed. It never mutates the ledger.
func ActiveStreak(state StreakState, today Day) int {
	if state.LastActivityDay.IsZero() {
		return 0
	}
	if DaysBetween(state.LastActivityDay, today) > 1 {
		return 0
	}
	return state.CurrentStreak
}
