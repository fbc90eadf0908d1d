// Package publish ships progress snapshots to Kafka for other services.
package publish

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/progress/internal/events"
	"example.com/progress/internal/observability"
	"example.com/progress/internal/progress"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
}

// NewKafkaWriter returns a synchronous writer bound to the snapshots topic.
// Every snapshot carries the same key, so the hash balancer keeps them on one
// partition and in order.
func NewKafkaWriter(brokers []string, topic string, writeTimeout time.Duration) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		WriteTimeout: writeTimeout,
	}
}

// SnapshotPublisher forwards tracker snapshots to Kafka. Only the newest
// pending snapshot is sent; older ones are superseded while a write is in
// flight.
type SnapshotPublisher struct {
	writer   MessageWriter
	registry SchemaRegistry
	topic    string
	subject  string
	key      string
	timeout  time.Duration
	logger   *log.Logger

	mu     sync.Mutex
	latest *progress.Snapshot
	wake   chan struct{}

	schemaID int
	resolved bool
}

// Option customises the publisher.
type Option func(*SnapshotPublisher)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *SnapshotPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPartitionKey sets the record key; every snapshot shares it so ordering
// is kept within one partition.
func WithPartitionKey(key string) Option {
	return func(p *SnapshotPublisher) {
		if key != "" {
			p.key = key
		}
	}
}

// WithWriteTimeout bounds each publish.
func WithWriteTimeout(d time.Duration) Option {
	return func(p *SnapshotPublisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewSnapshotPublisher builds a publisher. topic names the schema subject and
// must match the topic writer is bound to.
func NewSnapshotPublisher(writer MessageWriter, registry SchemaRegistry, topic string, opts ...Option) *SnapshotPublisher {
	if registry == nil {
		registry = StaticSchema(0)
	}
	p := &SnapshotPublisher{
		writer:   writer,
		registry: registry,
		topic:    topic,
		subject:  topic + "-value",
		key:      "progress",
		timeout:  10 * time.Second,
		logger:   log.New(os.Stdout, "[publish] ", log.LstdFlags|log.Lshortfile),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Observe queues snap for publishing. It never blocks, so it is safe to use
// as a tracker observer.
func (p *SnapshotPublisher) Observe(snap progress.Snapshot) {
	p.mu.Lock()
	if p.latest != nil {
		supersededCounter.Inc()
	}
	p.latest = &snap
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run publishes queued snapshots until ctx is cancelled.
func (p *SnapshotPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
			snap := p.take()
			if snap == nil {
				continue
			}
			if err := p.publish(ctx, *snap); err != nil {
				failedCounter.Inc()
				p.logger.Printf("publish snapshot %d to %s failed: %v", snap.Sequence, p.topic, err)
			}
		}
	}
}

func (p *SnapshotPublisher) take() *progress.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := p.latest
	p.latest = nil
	return snap
}

func (p *SnapshotPublisher) publish(ctx context.Context, snap progress.Snapshot) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	schemaID, err := p.resolveSchema(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(ToEvent(snap))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(p.key),
		Value: encodeWireFormat(schemaID, payload),
		Time:  snap.ComputedAt.UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(events.EventTypeProgressUpdated)},
			{Key: "schema_subject", Value: []byte(p.subject)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return err
	}

	deliveredCounter.Inc()
	observability.RecordSnapshotPublished(time.Now())
	publishDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (p *SnapshotPublisher) resolveSchema(ctx context.Context) (int, error) {
	if p.resolved {
		return p.schemaID, nil
	}
	id, err := p.registry.EnsureSchema(ctx, p.subject, progressUpdatedSchema)
	if err != nil {
		return 0, fmt.Errorf("ensure schema %s: %w", p.subject, err)
	}
	p.schemaID = id
	p.resolved = true
	return id, nil
}

// ToEvent converts a snapshot to its wire payload. Coverage is reported for
// the primary window.
func ToEvent(snap progress.Snapshot) events.ProgressUpdated {
	coverage := make(map[string]float64, len(snap.Coverage[snap.PrimaryWindow]))
	for c, v := range snap.Coverage[snap.PrimaryWindow] {
		coverage[string(c)] = v
	}
	wellness := make(map[string]float64, len(snap.Wellness))
	for c, v := range snap.Wellness {
		wellness[string(c)] = v
	}
	return events.ProgressUpdated{
		SnapshotID:         strconv.FormatUint(snap.Sequence, 10),
		ComputedAt:         snap.ComputedAt.UTC(),
		CurrentStreak:      snap.CurrentStreak,
		ActiveStreak:       snap.ActiveStreak,
		TotalCompletions:   snap.TotalCompletions,
		LastActivityDay:    snap.LastActivityDay.String(),
		Consistency:        snap.ConsistencyScore(),
		DailyProgress:      snap.DailyProgress,
		WeeklyProgress:     snap.WeeklyProgress,
		Coverage:           coverage,
		WellnessProgress:   wellness,
		CoverageWindowDays: snap.PrimaryWindow,
	}
}

// encodeWireFormat applies Confluent framing for Schema Registry aware payloads.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
