package domain

import (
	"bytes"
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// Day is a calendar date with the time of day discarded. The zero value means
// "no day".
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(raw string) (Day, error) {
	t, err := time.Parse(dayLayout, raw)
	if err != nil {
		return Day{}, fmt.Errorf("invalid day %q: %w", raw, err)
	}
	return Day{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// IsZero reports whether d is the zero Day.
func (d Day) IsZero() bool {
	return d == Day{}
}

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.utcMidnight().Format(dayLayout)
}

// AddDays returns the day n days after d (n may be negative).
func (d Day) AddDays(n int) Day {
	t := d.utcMidnight().AddDate(0, 0, n)
	return Day{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Before reports whether d is strictly earlier than other.
func (d Day) Before(other Day) bool {
	return d.utcMidnight().Before(other.utcMidnight())
}

// DaysBetween returns the number of calendar days from a to b; negative when
// b is earlier than a. Computed on civil dates, so DST transitions never
// produce 23 or 25 hour "days".
func DaysBetween(a, b Day) int {
	const secondsPerDay = 24 * 60 * 60
	return int((b.utcMidnight().Unix() - a.utcMidnight().Unix()) / secondsPerDay)
}

// MarshalJSON encodes d as "YYYY-MM-DD", or null for the zero Day.
func (d Day) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Day) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Day{}
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid day literal %s", data)
	}
	parsed, err := ParseDay(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Day) utcMidnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Calendar maps instants onto calendar days in a fixed location.
type Calendar struct {
	loc *time.Location
}

// NewCalendar returns a Calendar for loc; nil means UTC.
func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

// Location returns the calendar's location.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// DayOf returns the calendar day containing t.
func (c Calendar) DayOf(t time.Time) Day {
	local := t.In(c.Location())
	return Day{Year: local.Year(), Month: local.Month(), Day: local.Day()}
}

// StartOf returns local midnight of d.
func (c Calendar) StartOf(d Day) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, c.Location())
}

// WindowStart returns asOf shifted back by windowDays calendar days.
func (c Calendar) WindowStart(asOf time.Time, windowDays int) time.Time {
	return asOf.In(c.Location()).AddDate(0, 0, -windowDays)
}

// StartOfWeek returns Monday 00:00 of the week containing t.
func (c Calendar) StartOfWeek(t time.Time) time.Time {
	day := c.DayOf(t)
	offset := (int(c.StartOf(day).Weekday()) + 6) % 7
	return c.StartOf(day.AddDays(-offset))
}
