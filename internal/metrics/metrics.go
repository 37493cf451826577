package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "qrbot"

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of per-destination deliveries, labeled by mode, outcome and failure kind.",
		},
		[]string{"mode", "outcome", "failure_kind"},
	)

	UploadAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_attempts_total",
			Help:      "Total number of upload attempts made against the transport, labeled by result.",
		},
		[]string{"result"},
	)

	DeliveryAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempts",
			Help:      "Number of upload attempts spent per destination.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		},
	)

	BroadcastDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Wall-clock time of one deliver call across all destinations (seconds).",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"mode"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the HTTP rate limiter, labeled by route scope.",
		},
		[]string{"scope"},
	)

	ChannelListingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_listing_total",
			Help:      "Total number of channel listing fetches, labeled by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		DeliveriesTotal,
		UploadAttemptsTotal,
		DeliveryAttempts,
		BroadcastDurationSeconds,
		RateLimitHitsTotal,
		ChannelListingTotal,
	)
}
