package domain

import (
	"errors"
	"fmt"
	"slices"
)

// MaxActivityRange bounds how many days a single calendar query may span.
const MaxActivityRange = 366

// ErrInvalidRange is returned for calendar queries that end before they start
// or span more than MaxActivityRange days.
var ErrInvalidRange = errors.New("invalid day range")

// DayActivity summarises one calendar day that has at least one completion.
type DayActivity struct {
	Day          Day        `json:"day"`
	Categories   []Category `json:"categories"`
	Completions  int        `json:"completions"`
	TotalSeconds float64    `json:"total_seconds"`
}

// CheckRange validates an inclusive [from, to] query range.
func CheckRange(from, to Day) error {
	if from.IsZero() || to.IsZero() {
		return fmt.Errorf("%w: both ends are required", ErrInvalidRange)
	}
	if to.Before(from) {
		return fmt.Errorf("%w: %s is after %s", ErrInvalidRange, from, to)
	}
	if span := DaysBetween(from, to) + 1; span > MaxActivityRange {
		return fmt.Errorf("%w: %d days exceeds %d", ErrInvalidRange, span, MaxActivityRange)
	}
	return nil
}

// ActiveDays groups history by calendar day over the inclusive range
// [from, to]. Days without completions are omitted; the result is ordered by
// day and each day's categories are sorted.
func ActiveDays(history []CompletionRecord, from, to Day, cal Calendar) []DayActivity {
	byDay := make(map[Day]*DayActivity)
	for _, rec := range history {
		day := cal.DayOf(rec.Timestamp)
		if day.Before(from) || to.Before(day) {
			continue
		}
		entry, ok := byDay[day]
		if !ok {
			entry = &DayActivity{Day: day}
			byDay[day] = entry
		}
		entry.Completions++
		entry.TotalSeconds += rec.DurationSeconds
		if !slices.Contains(entry.Categories, rec.Category) {
			entry.Categories = append(entry.Categories, rec.Category)
		}
	}

	out := make([]DayActivity, 0, len(byDay))
	for _, entry := range byDay {
		slices.Sort(entry.Categories)
		out = append(out, *entry)
	}
	slices.SortFunc(out, func(a, b DayActivity) int {
		return DaysBetween(b.Day, a.Day)
	})
	return out
}

// RecentCompletions returns up to limit records, newest first. Records with
// equal timestamps keep their append order reversed.
func RecentCompletions(history []CompletionRecord, limit int) []CompletionRecord {
	if limit <= 0 || len(history) == 0 {
		return []CompletionRecord{}
	}
	out := slices.Clone(history)
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b CompletionRecord) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
