// Package observability exposes process-wide watermarks and the metrics
// endpoint.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	statePersistedGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "progress_engine",
		Subsystem: "persistence",
		Name:      "last_state_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful write per state key.",
	}, []string{"key"})
	snapshotPublishedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "progress_engine",
		Subsystem: "publish",
		Name:      "last_snapshot_published_timestamp_seconds",
		Help:      "Unix timestamp of the most recent snapshot written to Kafka.",
	})
)

func init() {
	prometheus.MustRegister(statePersistedGauge, snapshotPublishedGauge)
}

// RecordStatePersisted updates the persistence watermark for key.
func RecordStatePersisted(key string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	statePersistedGauge.WithLabelValues(key).Set(float64(ts.Unix()))
}

// RecordSnapshotPublished updates the publish watermark.
func RecordSnapshotPublished(ts time.Time) {
	if ts.IsZero() {
		return
	}
	snapshotPublishedGauge.Set(float64(ts.Unix()))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
