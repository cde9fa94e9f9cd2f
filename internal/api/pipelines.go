package api

import (
	"net/http"

	"github.com/potooio/cdcwatch/internal/permissions"
	"github.com/potooio/cdcwatch/internal/pipelines"
	"github.com/potooio/cdcwatch/internal/types"
)

// ProvisionalResponse is the wire format for the provisional pipeline routes.
type ProvisionalResponse struct {
	Provisional []pipelines.Provisional `json:"provisional"`
}

// PipelineActionResponse is returned by POST /api/v1/pipelines/{id}/{action}.
type PipelineActionResponse struct {
	PipelineID  types.ID             `json:"pipeline_id"`
	Status      types.PipelineStatus `json:"status"`
	Provisional bool                 `json:"provisional"`
}

// listProvisional handles GET /api/v1/pipelines/provisional.
func (s *Server) listProvisional(w http.ResponseWriter, _ *http.Request) {
	if !s.requireTracker(w) {
		return
	}
	list := s.pipelines.Provisionals()
	if list == nil {
		list = []pipelines.Provisional{}
	}
	s.writeJSON(w, http.StatusOK, ProvisionalResponse{Provisional: list})
}

// pipelineAction handles POST /api/v1/pipelines/{id}/{start|resume|pause|stop}.
// It records the status the action is expected to produce until the backend
// confirms or overrides it; issuing the action itself is the caller's job.
func (s *Server) pipelineAction(w http.ResponseWriter, r *http.Request) {
	if !s.requireTracker(w) || !s.require(w, permissions.ControlPipelines) {
		return
	}
	id := types.ID(r.PathValue("id"))
	action := pipelines.Action(r.PathValue("action"))
	if _, ok := pipelines.ExpectedStatus(action); !ok {
		s.writeError(w, http.StatusNotFound, "unknown pipeline action "+string(action))
		return
	}
	s.pipelines.ApplyAction(id, action)

	status, provisional := s.pipelines.Status(id)
	s.writeJSON(w, http.StatusAccepted, PipelineActionResponse{
		PipelineID:  id,
		Status:      status,
		Provisional: provisional,
	})
}

func (s *Server) requireTracker(w http.ResponseWriter) bool {
	if s.pipelines != nil {
		return true
	}
	s.writeError(w, http.StatusServiceUnavailable, "pipeline tracker is not configured")
	return false
}
