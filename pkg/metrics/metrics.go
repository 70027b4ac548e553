package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcome label values for MessagesDelivered.
const (
	OutcomeAcknowledged   = "acknowledged"
	OutcomeUnacknowledged = "unacknowledged"
	OutcomeUnreachable    = "unreachable"
)

var (
	// OnlineMembers tracks members with a live session in the presence registry.
	OnlineMembers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_online_members",
			Help: "Number of members with an active session",
		},
	)

	// MessagesDelivered counts per-recipient delivery outcomes (acknowledged|unacknowledged|unreachable).
	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_message_deliveries_total",
			Help: "Total per-recipient message delivery attempts",
		},
		[]string{"outcome"},
	)

	// FanoutDuration measures how long a full message fan-out takes.
	FanoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parley_fanout_duration_seconds",
			Help:    "Wall time of a complete message fan-out",
			Buckets: prometheus.DefBuckets,
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
