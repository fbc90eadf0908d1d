package domain

import "time"

// DailyProgress is the share of body parts exercised on the calendar day
// containing asOf.
func DailyProgress(history []CompletionRecord, catalog Catalog, asOf time.Time, cal Calendar) float64 {
	parts := catalog.BodyParts()
	if len(parts) == 0 {
		return 0
	}
	today := cal.DayOf(asOf)
	seen := make(map[Category]struct{})
	for _, rec := range history {
		if rec.Category.Kind() != KindBodyPart {
			continue
		}
		if cal.DayOf(rec.Timestamp) == today {
			seen[rec.Category] = struct{}{}
		}
	}
	return clampFraction(float64(len(seen)) / float64(len(parts)))
}

// WeeklyProgress counts body part completions in the week containing asOf
// (Monday 00:00 up to the next Monday) against a goal of one completion per
// body part per day.
func WeeklyProgress(history []CompletionRecord, catalog Catalog, asOf time.Time, cal Calendar) float64 {
	goal := len(catalog.BodyParts()) * 7
	if goal == 0 {
		return 0
	}
	start := cal.StartOfWeek(asOf)
	end := cal.StartOf(cal.DayOf(start).AddDays(7))
	count := 0
	for _, rec := range history {
		if rec.Category.Kind() != KindBodyPart {
			continue
		}
		if !rec.Timestamp.Before(start) && rec.Timestamp.Before(end) {
			count++
		}
	}
	return clampFraction(float64(count) / float64(goal))
}

// NextWeeklyReset returns the first Monday 00:00 strictly after asOf.
func NextWeeklyReset(asOf time.Time, cal Calendar) time.Time {
	start := cal.StartOfWeek(asOf)
	return cal.StartOf(cal.DayOf(start).AddDays(7))
}
