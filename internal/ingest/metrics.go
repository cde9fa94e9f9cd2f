package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdcwatch_ingest_frames_total",
			Help: "Inbound frames by type and outcome (applied, duplicate, dropped, ignored).",
		},
		[]string{"type", "outcome"},
	)
	refreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdcwatch_ingest_refresh_total",
			Help: "REST event refreshes by outcome (ok, error, coalesced).",
		},
		[]string{"outcome"},
	)
)
