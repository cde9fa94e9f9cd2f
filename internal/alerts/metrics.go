package alerts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	alertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdcwatch_alerts_created_total",
			Help: "Alerts inserted into the log by source and severity.",
		},
		[]string{"source", "severity"},
	)
	alertsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdcwatch_alerts_skipped_total",
			Help: "Derived alerts not inserted, by reason (duplicate, malformed).",
		},
		[]string{"source", "reason"},
	)
	notificationsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdcwatch_alert_notifications_dropped_total",
			Help: "Alert notifications not emitted on the stream, by reason (rate_limited, buffer_full).",
		},
		[]string{"reason"},
	)
	alertsInLog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cdcwatch_alerts_in_log",
		Help: "Number of alerts currently retained in the log.",
	})
	alertsUnread = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cdcwatch_alerts_unread",
		Help: "Current unread alert counter.",
	})
)

func setGauges(total, unread int) {
	alertsInLog.Set(float64(total))
	alertsUnread.Set(float64(unread))
}
