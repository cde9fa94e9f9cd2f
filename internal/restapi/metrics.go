package restapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdcwatch_restapi_requests_total",
			Help: "REST API requests by path and outcome (ok, error or HTTP status).",
		},
		[]string{"path", "outcome"},
	)
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cdcwatch_restapi_request_duration_seconds",
			Help:    "Duration of REST API requests.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"path"},
	)
)
