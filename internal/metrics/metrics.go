package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	FeedSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_feed_subscriptions",
		Help: "Current number of open change feed subscriptions",
	})
	FeedEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_feed_events_total",
		Help: "Total number of change feed events received",
	}, []string{"table", "type"})
	DeliveryLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_feed_delivery_latency_seconds",
		Help:    "Time between an insert committing and its change feed echo arriving",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})
	BackendRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_backend_requests_total",
		Help: "Total number of backend requests",
	}, []string{"op", "status"})
	BackendRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_backend_request_duration_seconds",
		Help:    "Backend request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	RealtimeReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_realtime_reconnects_total",
		Help: "Total number of realtime socket reconnects",
	})
)

func init() {
	prometheus.MustRegister(
		FeedSubscriptions,
		FeedEventsTotal,
		DeliveryLatency,
		BackendRequestsTotal,
		BackendRequestDuration,
		RealtimeReconnectsTotal,
	)
}

// ObserveRequest records one backend call started at start.
func ObserveRequest(op, status string, start time.Time) {
	BackendRequestsTotal.WithLabelValues(op, status).Inc()
	BackendRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveDelivery records feed latency for an event committed at commit.
// Zero or future commit times (clock skew) are ignored.
func ObserveDelivery(commit, received time.Time) {
	if commit.IsZero() || received.Before(commit) {
		return
	}
	DeliveryLatency.Observe(received.Sub(commit).Seconds())
}
