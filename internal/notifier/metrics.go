package notifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdcwatch_notifier_dispatch_total",
			Help: "Alerts seen by the notification dispatcher by outcome.",
		},
		[]string{"outcome"},
	)
	webhookSendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdcwatch_webhook_send_total",
			Help: "Webhook deliveries by outcome (success, retry, error, coalesced, evicted, dropped).",
		},
		[]string{"status"},
	)
	webhookQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cdcwatch_webhook_queue_depth",
			Help: "Alerts waiting for webhook delivery.",
		},
	)
	webhookSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cdcwatch_webhook_send_duration_seconds",
			Help:    "Duration of webhook notification HTTP requests.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)
)
