package events

import "github.com/prometheus/client_golang/prometheus"

var (
	busPublishedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progress_engine",
		Subsystem: "bus",
		Name:      "events_published_total",
		Help:      "Number of events accepted by the in-process bus.",
	}, []string{"topic"})

	busDeliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progress_engine",
		Subsystem: "bus",
		Name:      "events_delivered_total",
		Help:      "Number of subscriber deliveries that returned normally.",
	}, []string{"topic"})

	busPanicCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progress_engine",
		Subsystem: "bus",
		Name:      "subscriber_panics_total",
		Help:      "Number of subscriber panics recovered by the dispatcher.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(busPublishedCounter, busDeliveredCounter, busPanicCounter)
}

func recordBusPublished(topic Topic) {
	busPublishedCounter.WithLabelValues(string(topic)).Inc()
}

func recordBusDelivered(topic Topic) {
	busDeliveredCounter.WithLabelValues(string(topic)).Inc()
}

func recordBusHandlerPanic(topic Topic) {
	busPanicCounter.WithLabelValues(string(topic)).Inc()
}
