package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cdcwatch_realtime_connected",
		Help: "1 if connected to the event server, 0 otherwise.",
	})
	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdcwatch_realtime_reconnects_total",
		Help: "Successful reconnections after a lost session.",
	})
	transportErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdcwatch_realtime_transport_errors_total",
		Help: "Handshake failures, timeouts and mid-session drops.",
	})
	framesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdcwatch_realtime_frames_total",
			Help: "Inbound frames by type.",
		},
		[]string{"type"},
	)
	framesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdcwatch_realtime_frames_dropped_total",
		Help: "Inbound frames dropped because they could not be decoded or handled.",
	})
)
