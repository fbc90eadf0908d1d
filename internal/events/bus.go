// Package events carries completion events between collaborators and the
// progress engine, and defines the payloads exchanged with other services.
package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/progress/internal/domain"
)

// ErrBusClosed is returned by Publish once Close has been called.
var ErrBusClosed = errors.New("event bus closed")

// Topic names a stream of completion events.
type Topic string

const (
	TopicActivityCompleted         Topic = "activityCompleted"
	TopicWellnessActivityCompleted Topic = "wellnessActivityCompleted"
)

// Event is a single published completion.
type Event struct {
	ID          uuid.UUID
	Topic       Topic
	Record      domain.CompletionRecord
	PublishedAt time.Time
}

// HandlerFunc receives events for a subscribed topic.
type HandlerFunc func(ctx context.Context, evt Event)

// Bus is an in-process topic based publish/subscribe channel. Events are
// delivered on a single dispatch goroutine in publish order.
type Bus struct {
	logger *log.Logger
	now    func() time.Time

	queue chan Event

	mu       sync.RWMutex
	subs     map[Topic]map[uint64]HandlerFunc
	nextID   uint64
	closed   bool
	closeMu  sync.RWMutex
	done     chan struct{}
	stopOnce sync.Once
}

// BusOption customises the bus.
type BusOption func(*Bus)

// WithBusLogger overrides the default logger.
func WithBusLogger(logger *log.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBuffer sets how many events may wait for dispatch before Publish blocks.
func WithBuffer(size int) BusOption {
	return func(b *Bus) {
		if size >= 0 {
			b.queue = make(chan Event, size)
		}
	}
}

// WithBusClock overrides the clock used to stamp events.
func WithBusClock(now func() time.Time) BusOption {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBus starts a bus and its dispatch goroutine.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		logger: log.New(os.Stdout, "[events] ", log.LstdFlags|log.Lshortfile),
		now:    time.Now,
		queue:  make(chan Event, 64),
		subs:   make(map[Topic]map[uint64]HandlerFunc),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.dispatch()
	return b
}

// Subscribe registers fn for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic Topic, fn HandlerFunc) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]HandlerFunc)
	}
	b.subs[topic][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

// Publish enqueues record on topic. It blocks while the queue is full.
func (b *Bus) Publish(ctx context.Context, topic Topic, record domain.CompletionRecord) (Event, error) {
	if topic == "" {
		return Event{}, fmt.Errorf("publish: empty topic")
	}
	evt := Event{
		ID:          uuid.New(),
		Topic:       topic,
		Record:      record,
		PublishedAt: b.now().UTC(),
	}

	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return Event{}, ErrBusClosed
	}

	select {
	case b.queue <- evt:
		recordBusPublished(topic)
		return evt, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close stops accepting events, delivers the ones already queued and waits
// for the dispatch goroutine to exit or ctx to end.
func (b *Bus) Close(ctx context.Context) error {
	b.stopOnce.Do(func() {
		b.closeMu.Lock()
		b.closed = true
		close(b.queue)
		b.closeMu.Unlock()
	})

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for evt := range b.queue {
		for _, fn := range b.handlers(evt.Topic) {
			b.deliver(fn, evt)
		}
	}
}

func (b *Bus) handlers(topic Topic) []HandlerFunc {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.subs[topic]
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]HandlerFunc, 0, len(ids))
	for _, id := range ids {
		out = append(out, subs[id])
	}
	return out
}

func (b *Bus) deliver(fn HandlerFunc, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			recordBusHandlerPanic(evt.Topic)
			b.logger.Printf("subscriber panic topic=%s event=%s: %v", evt.Topic, evt.ID, r)
		}
	}()
	fn(context.Background(), evt)
	recordBusDelivered(evt.Topic)
}
