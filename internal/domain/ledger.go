// Package domain holds the progress engine's data model and its pure
// calculators: the completion ledger, streaks, coverage and consistency.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidState indicates a decoded LedgerState violates its invariants.
var ErrInvalidState = errors.New("invalid ledger state")

// CompletionRecord is one logged activity instance. Records are never mutated
// once appended.
type CompletionRecord struct {
	ActivityID      string    `json:"activity_id"`
	Category        Category  `json:"category"`
	Timestamp       time.Time `json:"timestamp"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// LedgerState is the durable rollup owned by the Ledger.
type LedgerState struct {
	History          []CompletionRecord `json:"history"`
	LastActivityDay  Day                `json:"last_activity_day"`
	CurrentStreak    int                `json:"current_streak"`
	TotalCompletions int                `json:"total_completions"`
}

// Streak extracts the streak portion of the state.
func (s LedgerState) Streak() StreakState {
	return StreakState{LastActivityDay: s.LastActivityDay, CurrentStreak: s.CurrentStreak}
}

// Clone returns a copy that shares no memory with s.
func (s LedgerState) Clone() LedgerState {
	out := s
	if s.History != nil {
		out.History = make([]CompletionRecord, len(s.History))
		copy(out.History, s.History)
	}
	return out
}

// Validate checks the rollup invariants. TotalCompletions may exceed the
// history length once retention has dropped old records.
func (s LedgerState) Validate() error {
	if s.CurrentStreak < 0 {
		return fmt.Errorf("%w: negative streak %d", ErrInvalidState, s.CurrentStreak)
	}
	if (s.CurrentStreak == 0) != s.LastActivityDay.IsZero() {
		return fmt.Errorf("%w: streak %d with last activity day %q", ErrInvalidState, s.CurrentStreak, s.LastActivityDay)
	}
	if s.TotalCompletions < len(s.History) {
		return fmt.Errorf("%w: total %d below history length %d", ErrInvalidState, s.TotalCompletions, len(s.History))
	}
	for i, rec := range s.History {
		if !rec.Category.Valid() {
			return fmt.Errorf("%w: record %d has category %q", ErrInvalidState, i, rec.Category)
		}
		if rec.DurationSeconds < 0 {
			return fmt.Errorf("%w: record %d has negative duration", ErrInvalidState, i)
		}
	}
	return nil
}

// AppendOutcome reports how an append affected the streak.
type AppendOutcome struct {
	Day        Day
	FirstOfDay bool
	Transition StreakTransition
}

// Ledger is the single-writer owner of a LedgerState. It is not safe for
// concurrent use.
type Ledger struct {
	state    LedgerState
	calendar Calendar
	// days holds every calendar day with a record in state.History.
	days map[Day]struct{}
}

// NewLedger wraps state; the ledger keeps its own copy.
func NewLedger(state LedgerState, calendar Calendar) *Ledger {
	l := &Ledger{state: state.Clone(), calendar: calendar}
	l.indexDays()
	return l
}

// State returns a copy of the current state.
func (l *Ledger) State() LedgerState {
	return l.state.Clone()
}

// Append adds rec to the history and updates the rollups. A zero timestamp
// defaults to now. Whether rec is the first completion of its calendar day is
// decided before rec is inserted, so a second completion on the same day never
// moves the streak.
func (l *Ledger) Append(rec CompletionRecord, now time.Time) (LedgerState, AppendOutcome) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	rec.Timestamp = rec.Timestamp.UTC()

	day := l.calendar.DayOf(rec.Timestamp)
	outcome := AppendOutcome{
		Day:        day,
		FirstOfDay: !l.hasCompletionOn(day),
		Transition: StreakUnchanged,
	}

	l.state.History = append(l.state.History, rec)
	l.state.TotalCompletions++
	l.days[day] = struct{}{}

	if outcome.FirstOfDay {
		next, transition := ComputeStreak(l.state.Streak(), day)
		l.state.LastActivityDay = next.LastActivityDay
		l.state.CurrentStreak = next.CurrentStreak
		outcome.Transition = transition
	}

	return l.state.Clone(), outcome
}

// Compact drops records timestamped before cutoff and returns how many were
// removed. Rollups are untouched, so TotalCompletions keeps counting every
// record ever appended.
func (l *Ledger) Compact(cutoff time.Time) int {
	kept := l.state.History[:0:0]
	for _, rec := range l.state.History {
		if !rec.Timestamp.Before(cutoff) {
			kept = append(kept, rec)
		}
	}
	removed := len(l.state.History) - len(kept)
	if removed > 0 {
		l.state.History = kept
		l.indexDays()
	}
	return removed
}

func (l *Ledger) hasCompletionOn(day Day) bool {
	_, ok := l.days[day]
	return ok
}

func (l *Ledger) indexDays() {
	l.days = make(map[Day]struct{}, len(l.state.History))
	for _, rec := range l.state.History {
		l.days[l.calendar.DayOf(rec.Timestamp)] = struct{}{}
	}
}
