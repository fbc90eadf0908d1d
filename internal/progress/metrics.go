package progress

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/progress/internal/domain"
)

var (
	completionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progress_engine",
		Subsystem: "tracker",
		Name:      "completions_total",
		Help:      "Completions applied, by path and category.",
	}, []string{"path", "category"})

	droppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progress_engine",
		Subsystem: "tracker",
		Name:      "dropped_events_total",
		Help:      "Events rejected before reaching the ledger.",
	}, []string{"reason"})

	backdatedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "progress_engine",
		Subsystem: "tracker",
		Name:      "backdated_completions_total",
		Help:      "Completions for a day earlier than the last activity day; the streak is left unchanged.",
	})

	loadFallbackCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progress_engine",
		Subsystem: "tracker",
		Name:      "load_fallbacks_total",
		Help:      "Loads that fell back to empty state, by key and reason.",
	}, []string{"key", "reason"})

	persistErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progress_engine",
		Subsystem: "tracker",
		Name:      "persist_errors_total",
		Help:      "Failed store writes by key.",
	}, []string{"key"})

	compactedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "progress_engine",
		Subsystem: "tracker",
		Name:      "compacted_records_total",
		Help:      "History records dropped by retention.",
	})

	streakGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "progress_engine",
		Subsystem: "tracker",
		Name:      "current_streak_days",
		Help:      "Stored streak length in days.",
	})

	totalGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "progress_engine",
		Subsystem: "tracker",
		Name:      "total_completions",
		Help:      "Total completions ever appended to the ledger.",
	})

	consistencyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "progress_engine",
		Subsystem: "tracker",
		Name:      "consistency_ratio",
		Help:      "Consistency over the primary window.",
	})
)

func init() {
	prometheus.MustRegister(
		completionsCounter,
		droppedCounter,
		backdatedCounter,
		loadFallbackCounter,
		persistErrorCounter,
		compactedCounter,
		streakGauge,
		totalGauge,
		consistencyGauge,
	)
}

func recordCompletion(path string, category domain.Category) {
	completionsCounter.WithLabelValues(path, string(category)).Inc()
}

func recordDropped(reason string) {
	droppedCounter.WithLabelValues(reason).Inc()
}

func recordLoadFallback(key, reason string) {
	loadFallbackCounter.WithLabelValues(key, reason).Inc()
}

func recordPersistError(key string) {
	persistErrorCounter.WithLabelValues(key).Inc()
}

func recordSnapshot(s *Snapshot) {
	streakGauge.Set(float64(s.CurrentStreak))
	totalGauge.Set(float64(s.TotalCompletions))
	consistencyGauge.Set(s.ConsistencyScore())
}
