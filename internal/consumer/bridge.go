// Package consumer bridges completion events published by other services on
// Kafka onto the in-process event bus.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/progress/internal/domain"
	"example.com/progress/internal/events"
)

// Reader is the part of *kafka.Reader the bridge uses.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
}

// Publisher accepts completion records for the in-process bus.
type Publisher interface {
	Publish(ctx context.Context, topic events.Topic, record domain.CompletionRecord) (events.Event, error)
}

// rejection marks a message that can never be applied. It is committed and
// counted under reason.
type rejection struct {
	reason string
	err    error
}

func (r *rejection) Error() string { return r.reason + ": " + r.err.Error() }

func (r *rejection) Unwrap() error { return r.err }

func reject(reason string, format string, args ...any) error {
	return &rejection{reason: reason, err: fmt.Errorf(format, args...)}
}

// completion is a decoded, validated Kafka record ready for the bus.
type completion struct {
	topic     events.Topic
	eventType string
	source    string
	record    domain.CompletionRecord
}

// Option configures optional behaviour for the Bridge.
type Option func(*Bridge)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithFetchBackoff sets the pause after a failed fetch.
func WithFetchBackoff(d time.Duration) Option {
	return func(b *Bridge) {
		if d >= 0 {
			b.backoff = d
		}
	}
}

// Bridge consumes framed completion records and republishes them on the bus.
// A message is committed once it is on the bus or rejected as unusable.
type Bridge struct {
	reader  Reader
	bus     Publisher
	logger  *log.Logger
	backoff time.Duration
}

// NewBridge constructs a Bridge reading from reader and publishing to bus.
func NewBridge(reader Reader, bus Publisher, opts ...Option) *Bridge {
	b := &Bridge{
		reader:  reader,
		bus:     bus,
		logger:  log.New(log.Writer(), "[kafka-bridge] ", log.LstdFlags|log.Lshortfile),
		backoff: time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run consumes until ctx is cancelled or the bus stops accepting events. The
// message in hand when the bus fails stays uncommitted, so the consumer group
// redelivers it after restart.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		msg, err := b.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return err
			}
			b.logger.Printf("fetch error: %v", err)
			if err := sleepCtx(ctx, b.backoff); err != nil {
				return err
			}
			continue
		}

		c, err := decodeCompletion(msg)
		if err != nil {
			var rej *rejection
			if !errors.As(err, &rej) {
				return err
			}
			b.logger.Printf("rejecting message (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, err)
			recordRejected(msg.Topic, rej.reason)
			b.commit(ctx, msg)
			continue
		}

		if _, err := b.bus.Publish(ctx, c.topic, c.record); err != nil {
			recordPublishError(msg.Topic)
			return fmt.Errorf("publish offset %d to %s: %w", msg.Offset, c.topic, err)
		}
		if b.commit(ctx, msg) {
			recordApplied(msg, c)
		}
	}
}

func (b *Bridge) commit(ctx context.Context, msg kafka.Message) bool {
	if err := b.reader.CommitMessages(ctx, msg); err != nil {
		b.logger.Printf("commit error (topic=%s, offset=%d): %v", msg.Topic, msg.Offset, err)
		return false
	}
	return true
}

// decodeCompletion unwraps the zero magic byte and big-endian schema id,
// routes on the event_type header and validates the CompletionReported
// payload. A missing completed_at falls back to the record time.
func decodeCompletion(msg kafka.Message) (completion, error) {
	if len(msg.Value) < 5 {
		return completion{}, reject("frame", "payload length %d", len(msg.Value))
	}
	if msg.Value[0] != 0 {
		return completion{}, reject("frame", "unknown magic byte %d", msg.Value[0])
	}
	_ = binary.BigEndian.Uint32(msg.Value[1:5])

	c := completion{
		eventType: headerValue(msg, "event_type"),
		source:    headerValue(msg, "source"),
	}
	switch c.eventType {
	case events.EventTypeActivityCompleted:
		c.topic = events.TopicActivityCompleted
	case events.EventTypeWellnessCompleted:
		c.topic = events.TopicWellnessActivityCompleted
	case "":
		return completion{}, reject("event_type", "missing event_type header")
	default:
		return completion{}, reject("event_type", "unsupported event type %q", c.eventType)
	}

	var payload events.CompletionReported
	if err := json.Unmarshal(msg.Value[5:], &payload); err != nil {
		return completion{}, reject("payload", "decode: %v", err)
	}
	category, err := domain.ParseCategory(payload.Category)
	if err != nil {
		return completion{}, reject("category", "%v", err)
	}
	if c.topic == events.TopicWellnessActivityCompleted && category.Kind() != domain.KindWellness {
		return completion{}, reject("category", "%q is not a wellness type", category)
	}
	if payload.DurationSeconds < 0 {
		return completion{}, reject("duration", "negative duration %v", payload.DurationSeconds)
	}

	if c.source == "" {
		c.source = payload.Source
	}
	c.record = domain.CompletionRecord{
		ActivityID:      payload.ActivityID,
		Category:        category,
		Timestamp:       payload.CompletedAt,
		DurationSeconds: payload.DurationSeconds,
	}
	if c.record.Timestamp.IsZero() {
		c.record.Timestamp = msg.Time
	}
	return c, nil
}

func headerValue(msg kafka.Message, key string) string {
	for _, header := range msg.Headers {
		if header.Key == key {
			return string(header.Value)
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
