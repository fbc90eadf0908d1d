package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

var (
	appliedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progress_engine",
		Subsystem: "kafka_bridge",
		Name:      "completions_applied_total",
		Help:      "Completions published onto the bus and committed, by event type and source.",
	}, []string{"event_type", "source"})

	rejectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progress_engine",
		Subsystem: "kafka_bridge",
		Name:      "messages_rejected_total",
		Help:      "Messages committed without being applied, by topic and reason.",
	}, []string{"topic", "reason"})

	publishErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progress_engine",
		Subsystem: "kafka_bridge",
		Name:      "publish_errors_total",
		Help:      "Bus publish failures that stopped the bridge.",
	}, []string{"topic"})

	lastCompletionGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "progress_engine",
		Subsystem: "kafka_bridge",
		Name:      "last_completion_timestamp_seconds",
		Help:      "Record time of the most recent applied completion per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(appliedCounter, rejectedCounter, publishErrorCounter, lastCompletionGauge)
}

func recordApplied(msg kafka.Message, c completion) {
	source := c.source
	if source == "" {
		source = "unknown"
	}
	appliedCounter.WithLabelValues(c.eventType, source).Inc()
	if !msg.Time.IsZero() {
		lastCompletionGauge.WithLabelValues(msg.Topic).Set(float64(msg.Time.Unix()))
	}
}

func recordRejected(topic, reason string) {
	rejectedCounter.WithLabelValues(topic, reason).Inc()
}

func recordPublishError(topic string) {
	publishErrorCounter.WithLabelValues(topic).Inc()
}
