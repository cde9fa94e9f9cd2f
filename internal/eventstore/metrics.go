package eventstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdcwatch_eventstore_events_total",
			Help: "Replication events offered to the store by outcome (stored, duplicate, invalid).",
		},
		[]string{"outcome"},
	)
	evictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdcwatch_eventstore_evictions_total",
			Help: "Entries evicted from the bounded window by kind.",
		},
		[]string{"kind"},
	)
)
