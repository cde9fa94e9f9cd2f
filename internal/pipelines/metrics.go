package pipelines

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var reconciliationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cdcwatch_pipelines_reconciliations_total",
		Help: "Provisional pipeline status reconciliations by resolution.",
	},
	[]string{"resolution"},
)
