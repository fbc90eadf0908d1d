// Package progress hosts the Tracker, the single owner of the completion
// ledger and the wellness accumulator. It consumes completion events from the
// bus, keeps derived metrics current and persists state in the background.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"example.com/progress/internal/domain"
	"example.com/progress/internal/events"
	"example.com/progress/internal/store"
)

var (
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("tracker already running")
	// ErrStopped is returned by commands issued after Run has exited.
	ErrStopped = errors.New("tracker stopped")
)

// State is the lifecycle stage of a Tracker.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Subscriber is the part of the event bus the tracker consumes.
type Subscriber interface {
	Subscribe(topic events.Topic, fn events.HandlerFunc) (unsubscribe func())
}

type commandKind int

const (
	cmdActivity commandKind = iota
	cmdWellness
	cmdReload
	cmdRefresh
	cmdQuery
)

// DefaultActivityRange is the calendar span ActiveDays covers when the caller
// leaves the start open.
const DefaultActivityRange = 30

type command struct {
	kind   commandKind
	event  events.Event
	ctx    context.Context
	query  func()
	result chan error
}

// Tracker is the progress facade. All mutation happens on the goroutine
// running Run; reads are served from the last published Snapshot.
type Tracker struct {
	cfg    settings
	logger *log.Logger
	store  store.Store

	state    atomic.Int32
	snapshot atomic.Pointer[Snapshot]
	seq      uint64

	commands chan command
	ready    chan struct{}
	stopping chan struct{}
	done     chan struct{}
	// sendMu lets shutdown wait out senders that passed the stopping check.
	sendMu sync.RWMutex

	ledger   *domain.Ledger
	wellness domain.WellnessProgress
	persist  *persister

	unsubscribe []func()

	obsMu     sync.RWMutex
	observers map[uint64]func(Snapshot)
	nextObs   uint64
}

// New builds a Tracker and subscribes it to the completion topics. Events
// delivered before Run reaches the ready state are queued and applied in
// order once it does.
func New(s store.Store, bus Subscriber, opts ...Option) (*Tracker, error) {
	if s == nil {
		return nil, errors.New("progress: store is required")
	}
	if bus == nil {
		return nil, errors.New("progress: bus is required")
	}
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("progress: %w", err)
	}

	t := &Tracker{
		cfg:       cfg,
		logger:    cfg.logger,
		store:     s,
		commands:  make(chan command, cfg.queueSize),
		ready:     make(chan struct{}),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
		ledger:    domain.NewLedger(domain.LedgerState{}, cfg.calendar),
		wellness:  make(domain.WellnessProgress),
		observers: make(map[uint64]func(Snapshot)),
	}
	t.snapshot.Store(computeSnapshot(0, domain.LedgerState{}, t.wellness, cfg.now(), &t.cfg))

	t.unsubscribe = []func(){
		bus.Subscribe(events.TopicActivityCompleted, t.handlerFor(cmdActivity)),
		bus.Subscribe(events.TopicWellnessActivityCompleted, t.handlerFor(cmdWellness)),
	}
	return t, nil
}

// Run loads persisted state, becomes ready and processes events until ctx is
// cancelled. Pending saves are flushed before it returns ctx.Err().
func (t *Tracker) Run(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(StateUninitialized), int32(StateLoading)) {
		return ErrAlreadyRunning
	}

	t.persist = newPersister(t.store, t.logger, t.cfg.saveTimeout)
	go t.persist.run()

	t.load(ctx)
	t.publish()
	t.state.Store(int32(StateReady))
	close(t.ready)
	t.logger.Printf("tracker ready streak=%d total=%d", t.Streak(), t.snapshot.Load().TotalCompletions)

	defer t.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-t.commands:
			t.execute(cmd)
		}
	}
}

func (t *Tracker) shutdown() {
	for _, unsubscribe := range t.unsubscribe {
		unsubscribe()
	}
	t.state.Store(int32(StateStopped))

	// Holding sendMu means no sender is between its stopping check and the
	// queue, so the drain sees every accepted command.
	close(t.stopping)
	t.sendMu.Lock()
	for drained := false; !drained; {
		select {
		case cmd := <-t.commands:
			t.execute(cmd)
		default:
			drained = true
		}
	}
	close(t.done)
	t.sendMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.saveTimeout)
	defer cancel()
	t.persist.close(ctx)
}

// State reports the lifecycle stage.
func (t *Tracker) State() State {
	return State(t.state.Load())
}

// Ready is closed once persisted state has been loaded.
func (t *Tracker) Ready() <-chan struct{} {
	return t.ready
}

// Reload writes pending saves, then re-reads state from the store and
// recomputes every metric. When the flush or a read fails the in-memory
// state is kept and the error returned.
func (t *Tracker) Reload(ctx context.Context) error {
	return t.call(ctx, command{kind: cmdReload, ctx: ctx})
}

// Refresh recomputes derived metrics against the current clock without
// touching the ledger. Trailing windows slide forward as days pass even when
// no events arrive.
func (t *Tracker) Refresh(ctx context.Context) error {
	return t.call(ctx, command{kind: cmdRefresh})
}

// ActiveDays lists the days in [from, to] with at least one completion. A
// zero to means today and a zero from means DefaultActivityRange days ending
// at to.
func (t *Tracker) ActiveDays(ctx context.Context, from, to domain.Day) ([]domain.DayActivity, error) {
	if to.IsZero() {
		to = t.cfg.calendar.DayOf(t.cfg.now())
	}
	if from.IsZero() {
		from = to.AddDays(-(DefaultActivityRange - 1))
	}
	if err := domain.CheckRange(from, to); err != nil {
		return nil, err
	}
	var days []domain.DayActivity
	err := t.call(ctx, command{kind: cmdQuery, query: func() {
		days = domain.ActiveDays(t.ledger.State().History, from, to, t.cfg.calendar)
	}})
	if err != nil {
		return nil, err
	}
	return days, nil
}

// RecentCompletions returns up to limit retained completions, newest first.
func (t *Tracker) RecentCompletions(ctx context.Context, limit int) ([]domain.CompletionRecord, error) {
	var recent []domain.CompletionRecord
	err := t.call(ctx, command{kind: cmdQuery, query: func() {
		recent = domain.RecentCompletions(t.ledger.State().History, limit)
	}})
	if err != nil {
		return nil, err
	}
	return recent, nil
}

// Coverage returns coverage of category over the primary window.
func (t *Tracker) Coverage(category domain.Category) float64 {
	return t.snapshot.Load().CoverageOf(category)
}

// CoverageFor returns coverage over a specific configured window.
func (t *Tracker) CoverageFor(category domain.Category, windowDays int) (float64, bool) {
	byCategory, ok := t.snapshot.Load().Coverage[windowDays]
	if !ok {
		return 0, false
	}
	return byCategory[category], true
}

// Consistency returns the consistency score over the primary window.
func (t *Tracker) Consistency() float64 {
	return t.snapshot.Load().ConsistencyScore()
}

// ConsistencyFor returns consistency over a specific configured window.
func (t *Tracker) ConsistencyFor(windowDays int) (float64, bool) {
	v, ok := t.snapshot.Load().Consistency[windowDays]
	return v, ok
}

// Streak returns the stored streak.
func (t *Tracker) Streak() int {
	return t.snapshot.Load().CurrentStreak
}

// ActiveStreak returns the streak as of the last recompute, 0 once a day has
// been missed.
func (t *Tracker) ActiveStreak() int {
	return t.snapshot.Load().ActiveStreak
}

// WellnessProgress returns the accumulated fraction for a wellness type.
func (t *Tracker) WellnessProgress(category domain.Category) float64 {
	return t.snapshot.Load().Wellness.Get(category)
}

// Snapshot returns a copy of the latest derived state.
func (t *Tracker) Snapshot() Snapshot {
	return t.snapshot.Load().Clone()
}

// Windows lists the configured coverage windows, primary first.
func (t *Tracker) Windows() []int {
	return append([]int(nil), t.cfg.windows...)
}

// Observe registers fn to receive every new snapshot. fn runs on the tracker
// goroutine and must not block.
func (t *Tracker) Observe(fn func(Snapshot)) (cancel func()) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.nextObs++
	id := t.nextObs
	t.observers[id] = fn
	return func() {
		t.obsMu.Lock()
		defer t.obsMu.Unlock()
		delete(t.observers, id)
	}
}

func (t *Tracker) handlerFor(kind commandKind) events.HandlerFunc {
	return func(ctx context.Context, evt events.Event) {
		err := t.enqueue(ctx, command{kind: kind, event: evt})
		switch {
		case errors.Is(err, ErrStopped):
			recordDropped("stopped")
			t.logger.Printf("dropping %s event %s: tracker stopped", evt.Topic, evt.ID)
		case err != nil:
			recordDropped("cancelled")
			t.logger.Printf("dropping %s event %s: %v", evt.Topic, evt.ID, err)
		}
	}
}

// enqueue hands cmd to the owner goroutine. It fails with ErrStopped once
// shutdown has begun, so nothing lands in the queue after the final drain.
func (t *Tracker) enqueue(ctx context.Context, cmd command) error {
	t.sendMu.RLock()
	defer t.sendMu.RUnlock()
	select {
	case <-t.stopping:
		return ErrStopped
	default:
	}
	select {
	case t.commands <- cmd:
		return nil
	case <-t.stopping:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) call(ctx context.Context, cmd command) error {
	cmd.result = make(chan error, 1)
	if err := t.enqueue(ctx, cmd); err != nil {
		return err
	}
	select {
	case err := <-cmd.result:
		return err
	case <-t.done:
		// The final drain may have run cmd.
		select {
		case err := <-cmd.result:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) execute(cmd command) {
	var err error
	switch cmd.kind {
	case cmdActivity:
		t.onActivityCompleted(cmd.event)
	case cmdWellness:
		t.onWellnessActivityCompleted(cmd.event)
	case cmdReload:
		ctx := cmd.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if err = t.reload(ctx); err != nil {
			t.logger.Printf("reload failed, keeping current state: %v", err)
		}
		t.publish()
	case cmdRefresh:
		t.publish()
	case cmdQuery:
		cmd.query()
	}
	if cmd.result != nil {
		cmd.result <- err
	}
}

func (t *Tracker) onActivityCompleted(evt events.Event) {
	rec := evt.Record
	if !rec.Category.Valid() {
		recordDropped("unknown_category")
		t.logger.Printf("dropping activity event %s: unknown category %q", evt.ID, rec.Category)
		return
	}
	if rec.DurationSeconds < 0 {
		recordDropped("negative_duration")
		t.logger.Printf("dropping activity event %s: negative duration %v", evt.ID, rec.DurationSeconds)
		return
	}

	now := t.cfg.now()
	state, outcome := t.ledger.Append(rec, now)
	recordCompletion("activity", rec.Category)
	if outcome.Transition == domain.StreakBackdated {
		backdatedCounter.Inc()
		t.logger.Printf("backdated completion %s on %s, last activity day %s; streak unchanged", rec.ActivityID, outcome.Day, state.LastActivityDay)
	}

	if t.cfg.retentionDays > 0 {
		cutoff := t.cfg.calendar.WindowStart(now, t.cfg.retentionDays)
		if removed := t.ledger.Compact(cutoff); removed > 0 {
			compactedCounter.Add(float64(removed))
			state = t.ledger.State()
		}
	}

	snap := t.recompute(state, now)
	t.saveLedger(state)
	t.notify(snap)
}

func (t *Tracker) onWellnessActivityCompleted(evt events.Event) {
	category := evt.Record.Category
	if category.Kind() != domain.KindWellness {
		recordDropped("not_wellness")
		t.logger.Printf("dropping wellness event %s: %q is not a wellness type", evt.ID, category)
		return
	}

	t.wellness.Accumulate(category, t.cfg.wellnessStep)
	recordCompletion("wellness", category)

	snap := t.recompute(t.ledger.State(), t.cfg.now())
	t.saveWellness()
	t.notify(snap)
}

// publish recomputes from current state and notifies observers.
func (t *Tracker) publish() {
	snap := t.recompute(t.ledger.State(), t.cfg.now())
	t.notify(snap)
}

func (t *Tracker) recompute(state domain.LedgerState, now time.Time) *Snapshot {
	t.seq++
	snap := computeSnapshot(t.seq, state, t.wellness, now, &t.cfg)
	t.snapshot.Store(snap)
	recordSnapshot(snap)
	return snap
}

func (t *Tracker) notify(snap *Snapshot) {
	t.obsMu.RLock()
	observers := make([]func(Snapshot), 0, len(t.observers))
	for _, fn := range t.observers {
		observers = append(observers, fn)
	}
	t.obsMu.RUnlock()

	for _, fn := range observers {
		t.deliver(fn, snap.Clone())
	}
}

func (t *Tracker) deliver(fn func(Snapshot), snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Printf("observer panic: %v", r)
		}
	}()
	fn(snap)
}

// load is the startup read. A key that cannot be read or decoded starts
// empty so the tracker still becomes ready.
func (t *Tracker) load(ctx context.Context) {
	state, err := t.loadLedger(ctx)
	if err != nil {
		recordLoadFallback(domain.LedgerKey, loadFailureReason(err))
		t.logger.Printf("%v; starting with an empty ledger", err)
		state = domain.LedgerState{}
	}
	wellness, err := t.loadWellness(ctx)
	if err != nil {
		recordLoadFallback(domain.WellnessKey, loadFailureReason(err))
		t.logger.Printf("%v; starting with empty wellness progress", err)
		wellness = make(domain.WellnessProgress)
	}
	t.ledger = domain.NewLedger(state, t.cfg.calendar)
	t.wellness = wellness
}

// reload replaces in-memory state only when both keys read cleanly. Pending
// saves are written first so the store holds every applied completion.
func (t *Tracker) reload(ctx context.Context) error {
	if err := t.persist.sync(ctx); err != nil {
		return fmt.Errorf("flush pending saves: %w", err)
	}
	state, err := t.loadLedger(ctx)
	if err != nil {
		return err
	}
	wellness, err := t.loadWellness(ctx)
	if err != nil {
		return err
	}
	t.ledger = domain.NewLedger(state, t.cfg.calendar)
	t.wellness = wellness
	return nil
}

// errDecode marks stored data that is present but unreadable.
var errDecode = errors.New("decode")

func loadFailureReason(err error) string {
	if errors.Is(err, errDecode) {
		return "decode"
	}
	return "read"
}

func (t *Tracker) loadLedger(ctx context.Context) (domain.LedgerState, error) {
	data, err := t.read(ctx, domain.LedgerKey)
	if err != nil || data == nil {
		return domain.LedgerState{}, err
	}
	state, err := domain.DecodeLedger(data)
	if err != nil {
		return domain.LedgerState{}, fmt.Errorf("%s: %w: %w", domain.LedgerKey, errDecode, err)
	}
	return state, nil
}

func (t *Tracker) loadWellness(ctx context.Context) (domain.WellnessProgress, error) {
	data, err := t.read(ctx, domain.WellnessKey)
	if err != nil || data == nil {
		return make(domain.WellnessProgress), err
	}
	progress, err := domain.DecodeWellness(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", domain.WellnessKey, errDecode, err)
	}
	return progress, nil
}

// read returns nil data without error for a missing key.
func (t *Tracker) read(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.saveTimeout)
	defer cancel()

	data, err := t.store.Get(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (t *Tracker) saveLedger(state domain.LedgerState) {
	data, err := domain.EncodeLedger(state)
	if err != nil {
		recordPersistError(domain.LedgerKey)
		t.logger.Printf("encode %s failed: %v", domain.LedgerKey, err)
		return
	}
	t.persist.submit(domain.LedgerKey, data)
}

func (t *Tracker) saveWellness() {
	data, err := domain.EncodeWellness(t.wellness)
	if err != nil {
		recordPersistError(domain.WellnessKey)
		t.logger.Printf("encode %s failed: %v", domain.WellnessKey, err)
		return
	}
	t.persist.submit(domain.WellnessKey, data)
}
