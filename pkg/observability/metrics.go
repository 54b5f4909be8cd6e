package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donky_sync_exchanges_total",
		Help: "Total number of completed notification exchanges.",
	}, []string{"status", "channel"})

	ExchangeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "donky_sync_exchange_duration_seconds",
		Help:    "Latency of one notification exchange round trip.",
		Buckets: prometheus.DefBuckets,
	})

	NotificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donky_notifications_dispatched_total",
		Help: "Inbound notifications delivered to subscribers.",
	}, []string{"category"})

	DuplicatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "donky_notifications_suppressed_total",
		Help: "Inbound notifications dropped as already-processed duplicates.",
	})

	OutboundQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "donky_outbound_queue_depth",
		Help: "Outbound notifications currently awaiting an exchange.",
	})
)
