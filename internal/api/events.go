package api

import (
	"net/http"

	"github.com/potooio/cdcwatch/internal/types"
)

// EventsResponse is the wire format for GET /api/v1/events.
type EventsResponse struct {
	Events []types.ReplicationEvent `json:"events"`
}

// MetricsResponse is the wire format for GET /api/v1/metrics.
type MetricsResponse struct {
	Metrics []types.Metric `json:"metrics"`
}

// listEvents handles GET /api/v1/events?pipeline_id=&limit=. Events are
// newest first.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	var events []types.ReplicationEvent
	if pipelineID := r.URL.Query().Get("pipeline_id"); pipelineID != "" {
		events = s.events.EventsForPipeline(types.ID(pipelineID))
	} else {
		events = s.events.Events()
	}
	if events == nil {
		events = []types.ReplicationEvent{}
	}
	s.writeJSON(w, http.StatusOK, EventsResponse{Events: truncate(events, limit)})
}

// listMetrics handles GET /api/v1/metrics?pipeline_id=&limit=.
func (s *Server) listMetrics(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	pipelineID := types.ID(r.URL.Query().Get("pipeline_id"))
	metrics := []types.Metric{}
	for _, m := range s.events.Metrics() {
		if pipelineID.IsZero() || m.PipelineID == pipelineID {
			metrics = append(metrics, m)
		}
	}
	s.writeJSON(w, http.StatusOK, MetricsResponse{Metrics: truncate(metrics, limit)})
}
