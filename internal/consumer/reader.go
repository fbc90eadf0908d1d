package consumer

import (
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReaderConfig describes the Kafka consumer group.
type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaReader builds a consumer-group reader. Commits are explicit, so
// CommitInterval stays zero.
func NewKafkaReader(cfg ReaderConfig) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" || strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("kafka topic and group id are required")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.Brokers,
		Topic:           cfg.Topic,
		GroupID:         cfg.GroupID,
		MinBytes:        1,
		MaxBytes:        10e6,
		MaxWait:         time.Second,
		StartOffset:     kafka.FirstOffset,
		ReadLagInterval: -1,
	}), nil
}
