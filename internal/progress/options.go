package progress

import (
	"fmt"
	"log"
	"os"
	"time"

	"example.com/progress/internal/domain"
)

// Default tuning values.
const (
	DefaultPrimaryWindow   = 7
	DefaultSecondaryWindow = 30
	DefaultSaveTimeout     = 5 * time.Second
	DefaultQueueSize       = 256
)

type settings struct {
	logger        *log.Logger
	now           func() time.Time
	calendar      domain.Calendar
	catalog       domain.Catalog
	windows       []int
	wellnessStep  float64
	retentionDays int
	saveTimeout   time.Duration
	queueSize     int
}

func defaultSettings() settings {
	return settings{
		logger:       log.New(os.Stdout, "[progress] ", log.LstdFlags|log.Lshortfile),
		now:          time.Now,
		calendar:     domain.NewCalendar(time.Local),
		catalog:      domain.DefaultCatalog,
		windows:      []int{DefaultPrimaryWindow, DefaultSecondaryWindow},
		wellnessStep: domain.DefaultWellnessStep,
		saveTimeout:  DefaultSaveTimeout,
		queueSize:    DefaultQueueSize,
	}
}

func (s settings) validate() error {
	if len(s.windows) == 0 {
		return fmt.Errorf("at least one coverage window is required")
	}
	longest := 0
	for _, w := range s.windows {
		if w <= 0 {
			return fmt.Errorf("coverage window must be positive, got %d", w)
		}
		if w > longest {
			longest = w
		}
	}
	if s.wellnessStep <= 0 || s.wellnessStep > 1 {
		return fmt.Errorf("wellness step must be in (0, 1], got %v", s.wellnessStep)
	}
	if s.retentionDays < 0 {
		return fmt.Errorf("retention days must not be negative, got %d", s.retentionDays)
	}
	// Retained history must cover every window and the current week.
	if s.retentionDays > 0 && s.retentionDays < max(longest, 7) {
		return fmt.Errorf("retention of %d days is shorter than the longest window of %d days", s.retentionDays, max(longest, 7))
	}
	if s.saveTimeout <= 0 {
		return fmt.Errorf("save timeout must be positive")
	}
	if s.queueSize < 0 {
		return fmt.Errorf("queue size must not be negative")
	}
	return nil
}

// Option configures a Tracker.
type Option func(*settings)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCalendar sets the location used to derive calendar days.
func WithCalendar(cal domain.Calendar) Option {
	return func(s *settings) {
		s.calendar = cal
	}
}

// WithCatalog overrides the category catalog.
func WithCatalog(catalog domain.Catalog) Option {
	return func(s *settings) {
		if catalog != nil {
			s.catalog = catalog
		}
	}
}

// WithCoverageWindows sets the trailing windows, in days, that coverage and
// consistency are computed over. The first is the primary window read by
// Coverage and Consistency.
func WithCoverageWindows(primary int, more ...int) Option {
	return func(s *settings) {
		windows := []int{primary}
		for _, w := range more {
			if w != primary {
				windows = append(windows, w)
			}
		}
		s.windows = windows
	}
}

// WithWellnessStep sets the increment applied per wellness completion.
func WithWellnessStep(step float64) Option {
	return func(s *settings) {
		s.wellnessStep = step
	}
}

// WithRetentionDays enables dropping history older than days. Zero keeps
// everything.
func WithRetentionDays(days int) Option {
	return func(s *settings) {
		s.retentionDays = days
	}
}

// WithSaveTimeout bounds each store write.
func WithSaveTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.saveTimeout = d
	}
}

// WithQueueSize sets how many events may wait for the tracker before the
// delivering goroutine blocks.
func WithQueueSize(n int) Option {
	return func(s *settings) {
		s.queueSize = n
	}
}
