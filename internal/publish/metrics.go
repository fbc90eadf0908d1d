package publish

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "progress_engine",
		Subsystem: "publish",
		Name:      "snapshots_delivered_total",
		Help:      "Number of snapshots successfully published to Kafka.",
	})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "progress_engine",
		Subsystem: "publish",
		Name:      "snapshots_failed_total",
		Help:      "Number of snapshots that failed to publish.",
	})

	supersededCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "progress_engine",
		Subsystem: "publish",
		Name:      "snapshots_superseded_total",
		Help:      "Number of snapshots replaced by a newer one before being sent.",
	})

	publishDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "progress_engine",
		Subsystem: "publish",
		Name:      "publish_duration_seconds",
		Help:      "Time spent resolving the schema and writing a snapshot.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, supersededCounter, publishDuration)
}
