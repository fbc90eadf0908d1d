package progress

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/progress/internal/domain"
	"example.com/progress/internal/events"
	"example.com/progress/internal/store"
)

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type failingStore struct {
	store.Store
	mu     sync.Mutex
	writes int
}

func (f *failingStore) Set(context.Context, string, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	return errors.New("disk full")
}

func (f *failingStore) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// gatedStore holds every Set until open is called.
type gatedStore struct {
	store.Store
	gate chan struct{}
	once sync.Once
}

func newGatedStore() *gatedStore {
	return &gatedStore{Store: store.NewMemoryStore(), gate: make(chan struct{})}
}

func (g *gatedStore) Set(ctx context.Context, key string, value []byte) error {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.Store.Set(ctx, key, value)
}

func (g *gatedStore) open() {
	g.once.Do(func() { close(g.gate) })
}

// flakyStore fails reads while broken is set.
type flakyStore struct {
	store.Store
	broken atomic.Bool
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.broken.Load() {
		return nil, errors.New("connection reset")
	}
	return f.Store.Get(ctx, key)
}

var day1 = time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

type harness struct {
	t       *testing.T
	tracker *Tracker
	bus     *events.Bus
	store   store.Store
	clock   *fakeClock
	cancel  context.CancelFunc
	stopped chan error
}

func newHarness(t *testing.T, s store.Store, opts ...Option) *harness {
	t.Helper()
	if s == nil {
		s = store.NewMemoryStore()
	}
	logger := log.New(testWriter{t}, "", 0)
	clock := newFakeClock(day1)
	bus := events.NewBus(events.WithBusLogger(logger))

	base := []Option{
		WithLogger(logger),
		WithClock(clock.Now),
		WithCalendar(domain.NewCalendar(time.UTC)),
	}
	tracker, err := New(s, bus, append(base, opts...)...)
	require.NoError(t, err)

	h := &harness{t: t, tracker: tracker, bus: bus, store: s, clock: clock}
	t.Cleanup(h.stop)
	return h
}

func (h *harness) start() {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.stopped = make(chan error, 1)
	go func() { h.stopped <- h.tracker.Run(ctx) }()

	select {
	case <-h.tracker.Ready():
	case <-time.After(2 * time.Second):
		h.t.Fatal("tracker never became ready")
	}
}

func (h *harness) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = h.bus.Close(ctx)
	if h.cancel != nil {
		h.cancel()
		select {
		case <-h.stopped:
		case <-ctx.Done():
		}
		h.cancel = nil
	}
}

func (h *harness) complete(category domain.Category, ts time.Time) {
	h.t.Helper()
	_, err := h.bus.Publish(context.Background(), events.TopicActivityCompleted, domain.CompletionRecord{
		ActivityID:      "activity-" + string(category),
		Category:        category,
		Timestamp:       ts,
		DurationSeconds: 120,
	})
	require.NoError(h.t, err)
}

func (h *harness) completeWellness(category domain.Category) {
	h.t.Helper()
	_, err := h.bus.Publish(context.Background(), events.TopicWellnessActivityCompleted, domain.CompletionRecord{
		ActivityID: "wellness-" + string(category),
		Category:   category,
	})
	require.NoError(h.t, err)
}

// settle waits until every published event has been applied.
func (h *harness) settle() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(h.t, h.bus.Close(ctx))
	require.NoError(h.t, h.tracker.Refresh(ctx))
}

func at(dayOffset int) time.Time {
	return day1.AddDate(0, 0, dayOffset)
}

func TestTrackerSingleCompletion(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.complete(domain.BodyPartWrists, at(0))
	h.settle()

	require.Equal(t, 1, h.tracker.Streak())
	require.InDelta(t, 1.0/7, h.tracker.Coverage(domain.BodyPartWrists), 1e-9)
	require.InDelta(t, 1.0/7, h.tracker.Consistency(), 1e-9)
	require.Zero(t, h.tracker.Coverage(domain.BodyPartNeck))

	monthly, ok := h.tracker.CoverageFor(domain.BodyPartWrists, 30)
	require.True(t, ok)
	require.InDelta(t, 1.0/30, monthly, 1e-9)

	_, ok = h.tracker.CoverageFor(domain.BodyPartWrists, 14)
	require.False(t, ok)
}

func TestTrackerConsecutiveDays(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	for d := 0; d < 3; d++ {
		h.clock.Set(at(d))
		h.complete(domain.BodyPartWrists, at(d))
	}
	h.settle()

	require.Equal(t, 3, h.tracker.Streak())
	require.Equal(t, 3, h.tracker.ActiveStreak())
}

func TestTrackerSkippedDayResetsStreak(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.complete(domain.BodyPartWrists, at(0))
	h.clock.Set(at(2))
	h.complete(domain.BodyPartWrists, at(2))
	h.settle()

	require.Equal(t, 1, h.tracker.Streak())
}

func TestTrackerSameDayCompletionsCountOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	for i := 0; i < 3; i++ {
		h.complete(domain.BodyPartWrists, at(0).Add(time.Duration(i)*time.Hour))
	}
	h.clock.Set(at(0).Add(4 * time.Hour))
	h.settle()

	snap := h.tracker.Snapshot()
	require.Equal(t, 3, snap.TotalCompletions)
	require.Equal(t, 1, snap.CurrentStreak)
	require.InDelta(t, 1.0/7, snap.CoverageOf(domain.BodyPartWrists), 1e-9)
}

func TestTrackerWellnessSaturates(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	for i := 0; i < 6; i++ {
		h.completeWellness(domain.WellnessMeditation)
	}
	h.completeWellness(domain.WellnessBreathing)
	h.settle()

	require.Equal(t, 1.0, h.tracker.WellnessProgress(domain.WellnessMeditation))
	require.InDelta(t, 0.2, h.tracker.WellnessProgress(domain.WellnessBreathing), 1e-9)
	require.Zero(t, h.tracker.WellnessProgress(domain.WellnessGratitude))
	require.Zero(t, h.tracker.Snapshot().TotalCompletions)
}

func TestTrackerQueuesEventsBeforeReady(t *testing.T) {
	h := newHarness(t, nil)

	for d := 0; d < 4; d++ {
		h.complete(domain.BodyPartNeck, at(d))
	}
	require.Equal(t, StateUninitialized, h.tracker.State())
	require.Zero(t, h.tracker.Streak())

	h.clock.Set(at(3))
	h.start()
	h.settle()

	require.Equal(t, StateReady, h.tracker.State())
	require.Equal(t, 4, h.tracker.Streak())
	require.Equal(t, 4, h.tracker.Snapshot().TotalCompletions)
}

func TestTrackerPersistsAndRestores(t *testing.T) {
	s := store.NewMemoryStore()

	first := newHarness(t, s)
	first.start()
	first.complete(domain.BodyPartHips, at(0))
	first.completeWellness(domain.WellnessGratitude)
	first.settle()
	first.stop()

	data, err := s.Get(context.Background(), domain.LedgerKey)
	require.NoError(t, err)
	state, err := domain.DecodeLedger(data)
	require.NoError(t, err)
	require.Equal(t, 1, state.TotalCompletions)

	second := newHarness(t, s)
	second.start()

	require.Equal(t, 1, second.tracker.Streak())
	require.InDelta(t, 1.0/7, second.tracker.Coverage(domain.BodyPartHips), 1e-9)
	require.InDelta(t, 0.2, second.tracker.WellnessProgress(domain.WellnessGratitude), 1e-9)
}

func TestTrackerFailsOpenOnCorruptState(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, domain.LedgerKey, []byte(`{"history":"oops"`)))
	require.NoError(t, s.Set(ctx, domain.WellnessKey, []byte(`{"meditation":7}`)))

	before := testutil.ToFloat64(loadFallbackCounter.WithLabelValues(domain.LedgerKey, "decode"))

	h := newHarness(t, s)
	h.start()

	require.Equal(t, StateReady, h.tracker.State())
	require.Zero(t, h.tracker.Streak())
	require.Zero(t, h.tracker.WellnessProgress(domain.WellnessMeditation))
	require.Equal(t, before+1, testutil.ToFloat64(loadFallbackCounter.WithLabelValues(domain.LedgerKey, "decode")))

	h.complete(domain.BodyPartEyes, at(0))
	h.settle()
	require.Equal(t, 1, h.tracker.Streak())
}

func TestTrackerKeepsServingWhenSavesFail(t *testing.T) {
	s := &failingStore{Store: store.NewMemoryStore()}
	before := testutil.ToFloat64(persistErrorCounter.WithLabelValues(domain.LedgerKey))

	h := newHarness(t, s)
	h.start()
	h.complete(domain.BodyPartJaw, at(0))
	h.settle()

	require.Equal(t, 1, h.tracker.Streak())
	require.Eventually(t, func() bool { return s.attempts() > 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(persistErrorCounter.WithLabelValues(domain.LedgerKey)) > before
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTrackerBackdatedCompletionLeavesStreak(t *testing.T) {
	before := testutil.ToFloat64(backdatedCounter)

	h := newHarness(t, nil)
	h.start()
	h.clock.Set(at(5))
	h.complete(domain.BodyPartShoulders, at(4))
	h.complete(domain.BodyPartShoulders, at(5))
	h.complete(domain.BodyPartShoulders, at(1))
	h.settle()

	snap := h.tracker.Snapshot()
	require.Equal(t, 2, snap.CurrentStreak)
	require.Equal(t, "2024-03-09", snap.LastActivityDay.String())
	require.Equal(t, 3, snap.TotalCompletions)
	require.Equal(t, before+1, testutil.ToFloat64(backdatedCounter))
}

func TestTrackerDropsInvalidEvents(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	ctx := context.Background()
	_, err := h.bus.Publish(ctx, events.TopicActivityCompleted, domain.CompletionRecord{Category: "elbows", Timestamp: at(0)})
	require.NoError(t, err)
	_, err = h.bus.Publish(ctx, events.TopicActivityCompleted, domain.CompletionRecord{Category: domain.BodyPartNeck, Timestamp: at(0), DurationSeconds: -3})
	require.NoError(t, err)
	_, err = h.bus.Publish(ctx, events.TopicWellnessActivityCompleted, domain.CompletionRecord{Category: domain.BodyPartNeck})
	require.NoError(t, err)
	h.settle()

	snap := h.tracker.Snapshot()
	require.Zero(t, snap.TotalCompletions)
	require.Zero(t, snap.CurrentStreak)
	for _, v := range snap.Wellness {
		require.Zero(t, v)
	}
}

func TestTrackerRefreshSlidesWindows(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	h.complete(domain.BodyPartAnkles, at(0))
	h.settle()
	require.Equal(t, 1, h.tracker.ActiveStreak())

	h.clock.Set(at(2))
	require.NoError(t, h.tracker.Refresh(context.Background()))
	require.Equal(t, 1, h.tracker.Streak())
	require.Zero(t, h.tracker.ActiveStreak())

	h.clock.Set(at(8))
	require.NoError(t, h.tracker.Refresh(context.Background()))
	require.Zero(t, h.tracker.Coverage(domain.BodyPartAnkles))
	monthly, ok := h.tracker.ConsistencyFor(30)
	require.True(t, ok)
	require.InDelta(t, 1.0/30, monthly, 1e-9)
}

func TestTrackerReloadReadsStore(t *testing.T) {
	s := store.NewMemoryStore()
	h := newHarness(t, s)
	h.start()
	require.Zero(t, h.tracker.Streak())

	ledger := domain.NewLedger(domain.LedgerState{}, domain.NewCalendar(time.UTC))
	for d := -2; d <= 0; d++ {
		ledger.Append(domain.CompletionRecord{ActivityID: "x", Category: domain.BodyPartLowerBack, Timestamp: at(d)}, at(d))
	}
	data, err := domain.EncodeLedger(ledger.State())
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), domain.LedgerKey, data))

	require.NoError(t, h.tracker.Reload(context.Background()))
	require.Equal(t, 3, h.tracker.Streak())
	require.InDelta(t, 3.0/7, h.tracker.Coverage(domain.BodyPartLowerBack), 1e-9)
}

func TestTrackerRetentionCompactsHistory(t *testing.T) {
	s := store.NewMemoryStore()
	h := newHarness(t, s, WithCoverageWindows(7), WithRetentionDays(10))
	h.start()

	for d := 0; d < 20; d++ {
		h.clock.Set(at(d))
		h.complete(domain.BodyPartPelvicFloor, at(d))
	}
	h.settle()
	h.stop()

	data, err := s.Get(context.Background(), domain.LedgerKey)
	require.NoError(t, err)
	state, err := domain.DecodeLedger(data)
	require.NoError(t, err)

	require.Equal(t, 20, state.TotalCompletions)
	require.Equal(t, 20, state.CurrentStreak)
	require.Len(t, state.History, 11)
	for _, rec := range state.History {
		require.False(t, rec.Timestamp.Before(at(9)))
	}
}

func TestTrackerObservers(t *testing.T) {
	h := newHarness(t, nil)

	var mu sync.Mutex
	var seen []Snapshot
	cancel := h.tracker.Observe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	h.start()
	h.complete(domain.BodyPartWrists, at(0))
	h.settle()
	cancel()
	require.NoError(t, h.tracker.Refresh(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	// Ready, the completion and the settle refresh.
	require.Len(t, seen, 3)
	require.Equal(t, 1, seen[1].CurrentStreak)
	require.Less(t, seen[0].Sequence, seen[1].Sequence)

	// Observers get their own copies.
	seen[1].Coverage[7][domain.BodyPartWrists] = 0
	require.InDelta(t, 1.0/7, h.tracker.Coverage(domain.BodyPartWrists), 1e-9)
}

func TestTrackerLifecycleErrors(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	require.ErrorIs(t, h.tracker.Run(context.Background()), ErrAlreadyRunning)

	h.stop()
	require.Equal(t, StateStopped, h.tracker.State())
	require.ErrorIs(t, h.tracker.Reload(context.Background()), ErrStopped)
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(func() { _ = bus.Close(context.Background()) })
	s := store.NewMemoryStore()

	cases := map[string][]Option{
		"zero window":     {WithCoverageWindows(0)},
		"negative window": {WithCoverageWindows(7, -30)},
		"zero step":       {WithWellnessStep(0)},
		"step above one":  {WithWellnessStep(1.5)},
		"short retention": {WithRetentionDays(5)},
		"negative retain": {WithRetentionDays(-1)},
		"no save timeout": {WithSaveTimeout(0)},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(s, bus, opts...)
			require.Error(t, err)
		})
	}

	_, err := New(nil, bus)
	require.Error(t, err)
}

func TestTrackerReloadWaitsForPendingSaves(t *testing.T) {
	s := newGatedStore()
	t.Cleanup(s.open)
	h := newHarness(t, s)
	h.start()

	h.complete(domain.BodyPartWrists, at(0))
	require.Eventually(t, func() bool {
		return h.tracker.Snapshot().TotalCompletions == 1
	}, 2*time.Second, 5*time.Millisecond)

	reloaded := make(chan error, 1)
	go func() { reloaded <- h.tracker.Reload(context.Background()) }()

	select {
	case err := <-reloaded:
		t.Fatalf("reload returned before the pending save was written: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	s.open()
	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reload never returned")
	}
	require.Equal(t, 1, h.tracker.Snapshot().TotalCompletions)

	h.clock.Set(at(1))
	h.complete(domain.BodyPartWrists, at(1))
	h.settle()

	snap := h.tracker.Snapshot()
	require.Equal(t, 2, snap.TotalCompletions)
	require.Equal(t, 2, snap.CurrentStreak)
}

func TestTrackerReloadKeepsStateWhenReadFails(t *testing.T) {
	s := &flakyStore{Store: store.NewMemoryStore()}
	h := newHarness(t, s)
	h.start()

	h.complete(domain.BodyPartNeck, at(0))
	h.completeWellness(domain.WellnessMeditation)
	require.Eventually(t, func() bool {
		snap := h.tracker.Snapshot()
		return snap.TotalCompletions == 1 && snap.Wellness.Get(domain.WellnessMeditation) > 0
	}, 2*time.Second, 5*time.Millisecond)

	s.broken.Store(true)
	err := h.tracker.Reload(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")

	snap := h.tracker.Snapshot()
	require.Equal(t, 1, snap.TotalCompletions)
	require.Equal(t, 1, snap.CurrentStreak)
	require.Positive(t, snap.Wellness.Get(domain.WellnessMeditation))

	s.broken.Store(false)
	require.NoError(t, h.tracker.Reload(context.Background()))
	require.Equal(t, 1, h.tracker.Snapshot().TotalCompletions)
}

func TestTrackerReloadReportsFailedSaves(t *testing.T) {
	s := &failingStore{Store: store.NewMemoryStore()}
	h := newHarness(t, s)
	h.start()

	h.complete(domain.BodyPartHips, at(0))
	require.Eventually(t, func() bool {
		return h.tracker.Snapshot().TotalCompletions == 1
	}, 2*time.Second, 5*time.Millisecond)

	err := h.tracker.Reload(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
	require.Equal(t, 1, h.tracker.Snapshot().TotalCompletions)
}

func TestTrackerShutdownAccountsForEveryEvent(t *testing.T) {
	const senders = 64
	before := testutil.ToFloat64(droppedCounter.WithLabelValues("stopped"))

	h := newHarness(t, nil, WithQueueSize(2))
	h.start()
	handler := h.tracker.handlerFor(cmdActivity)

	var wg sync.WaitGroup
	release := make(chan struct{})
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-release
			handler(context.Background(), events.Event{
				Topic:  events.TopicActivityCompleted,
				Record: domain.CompletionRecord{ActivityID: "a", Category: domain.BodyPartWrists, Timestamp: at(0)},
			})
		}()
	}
	close(release)
	h.cancel()
	wg.Wait()
	select {
	case <-h.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop")
	}
	h.cancel = nil

	applied := h.tracker.Snapshot().TotalCompletions
	dropped := testutil.ToFloat64(droppedCounter.WithLabelValues("stopped")) - before
	require.Equal(t, senders, applied+int(dropped))
}

func TestTrackerActiveDaysAndRecentCompletions(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.complete(domain.BodyPartWrists, at(-3))
	h.complete(domain.BodyPartNeck, at(-3).Add(time.Hour))
	h.complete(domain.BodyPartNeck, at(-1))
	h.complete(domain.BodyPartEyes, at(0))
	h.settle()

	ctx := context.Background()
	days, err := h.tracker.ActiveDays(ctx, domain.Day{}, domain.Day{})
	require.NoError(t, err)
	require.Len(t, days, 3)
	require.Equal(t, "2024-03-01", days[0].Day.String())
	require.Equal(t, []domain.Category{domain.BodyPartNeck, domain.BodyPartWrists}, days[0].Categories)
	require.Equal(t, "2024-03-04", days[2].Day.String())

	from, err := domain.ParseDay("2024-03-02")
	require.NoError(t, err)
	days, err = h.tracker.ActiveDays(ctx, from, from.AddDays(1))
	require.NoError(t, err)
	require.Len(t, days, 1)
	require.Equal(t, "2024-03-03", days[0].Day.String())

	_, err = h.tracker.ActiveDays(ctx, from.AddDays(1), from)
	require.ErrorIs(t, err, domain.ErrInvalidRange)

	recent, err := h.tracker.RecentCompletions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, domain.BodyPartEyes, recent[0].Category)
	require.Equal(t, domain.BodyPartNeck, recent[1].Category)
}
