package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pollsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cdcwatch_poller_polls_total",
		Help: "Domain snapshot polls by outcome.",
	},
	[]string{"outcome"},
)
