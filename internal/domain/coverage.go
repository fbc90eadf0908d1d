package domain

import (
	"fmt"
	"time"
)

// ComputeCoverage returns the fraction of the trailing window during which
// category was exercised, counted in distinct calendar days. The window is
// [asOf - windowDays days, asOf] with both ends inclusive. windowDays must be
// positive.
func ComputeCoverage(history []CompletionRecord, category Category, windowDays int, asOf time.Time, cal Calendar) float64 {
	mustPositiveWindow(windowDays)
	return windowFraction(history, windowDays, asOf, cal, func(rec CompletionRecord) bool {
		return rec.Category == category
	})
}

// CoverageByCategory computes coverage for every category in catalog. Every
// category is present in the result, 0 when it has no history in the window.
func CoverageByCategory(history []CompletionRecord, catalog Catalog, windowDays int, asOf time.Time, cal Calendar) map[Category]float64 {
	mustPositiveWindow(windowDays)

	start := cal.WindowStart(asOf, windowDays)
	days := make(map[Category]map[Day]struct{})
	for _, rec := range history {
		if !inWindow(rec.Timestamp, start, asOf) {
			continue
		}
		set, ok := days[rec.Category]
		if !ok {
			set = make(map[Day]struct{})
			days[rec.Category] = set
		}
		set[cal.DayOf(rec.Timestamp)] = struct{}{}
	}

	all := AllCategories(catalog)
	out := make(map[Category]float64, len(all))
	for _, c := range all {
		out[c] = clampFraction(float64(len(days[c])) / float64(windowDays))
	}
	return out
}

// ComputeConsistency returns the fraction of the trailing window on which any
// completion occurred, regardless of category.
func ComputeConsistency(history []CompletionRecord, windowDays int, asOf time.Time, cal Calendar) float64 {
	mustPositiveWindow(windowDays)
	return windowFraction(history, windowDays, asOf, cal, func(CompletionRecord) bool { return true })
}

func windowFraction(history []CompletionRecord, windowDays int, asOf time.Time, cal Calendar, match func(CompletionRecord) bool) float64 {
	start := cal.WindowStart(asOf, windowDays)
	days := make(map[Day]struct{})
	for _, rec := range history {
		if !match(rec) || !inWindow(rec.Timestamp, start, asOf) {
			continue
		}
		days[cal.DayOf(rec.Timestamp)] = struct{}{}
	}
	return clampFraction(float64(len(days)) / float64(windowDays))
}

func inWindow(ts, start, end time.Time) bool {
	return !ts.Before(start) && !ts.After(end)
}

func clampFraction(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func mustPositiveWindow(windowDays int) {
	if windowDays <= 0 {
		panic(fmt.Sprintf("domain: window must be positive, got %d days", windowDays))
	}
}
