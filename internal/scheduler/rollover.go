// Package scheduler recomputes time-windowed metrics when the local calendar
// day changes, so trailing windows slide even when no completions arrive.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSpec fires at local midnight.
const DefaultSpec = "0 0 * * *"

// Refresher recomputes derived metrics against the current clock.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Rollover triggers a Refresher on a cron schedule.
type Rollover struct {
	target  Refresher
	spec    string
	timeout time.Duration
	logger  *log.Logger
	cron    *cron.Cron
}

// Option customises the Rollover.
type Option func(*Rollover)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Rollover) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSpec overrides the cron expression. Descriptors such as "@every 1h"
// are accepted.
func WithSpec(spec string) Option {
	return func(r *Rollover) {
		if spec != "" {
			r.spec = spec
		}
	}
}

// WithTimeout bounds each refresh.
func WithTimeout(d time.Duration) Option {
	return func(r *Rollover) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRollover builds a schedule evaluated in loc; nil means UTC.
func NewRollover(target Refresher, loc *time.Location, opts ...Option) (*Rollover, error) {
	if loc == nil {
		loc = time.UTC
	}
	r := &Rollover{
		target:  target,
		spec:    DefaultSpec,
		timeout: 30 * time.Second,
		logger:  log.New(os.Stdout, "[rollover] ", log.LstdFlags|log.Lshortfile),
		cron:    cron.New(cron.WithLocation(loc)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if _, err := r.cron.AddFunc(r.spec, func() {
		if err := r.RunOnce(context.Background()); err != nil {
			r.logger.Printf("refresh failed: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to add cron job %q: %w", r.spec, err)
	}
	return r, nil
}

// Run starts the schedule and blocks until ctx is cancelled, then waits for a
// running refresh to finish.
func (r *Rollover) Run(ctx context.Context) error {
	r.logger.Printf("starting day rollover schedule %q", r.spec)
	r.cron.Start()
	<-ctx.Done()
	stopped := r.cron.Stop()
	<-stopped.Done()
	r.logger.Println("day rollover stopped")
	return ctx.Err()
}

// RunOnce performs a single refresh.
func (r *Rollover) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	if err := r.target.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	r.logger.Printf("metrics refreshed in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

// Next reports when the schedule fires next.
func (r *Rollover) Next(after time.Time) time.Time {
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Schedule.Next(after)
}
