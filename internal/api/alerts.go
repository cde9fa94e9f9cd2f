package api

import (
	"net/http"

	"github.com/potooio/cdcwatch/internal/permissions"
	"github.com/potooio/cdcwatch/internal/types"
)

// AlertsResponse is the wire format for GET /api/v1/alerts.
type AlertsResponse struct {
	Alerts []types.Alert `json:"alerts"`
	// Unread counts the unread alerts the role may view, independent of the
	// query filters.
	Unread int `json:"unread"`
}

// AlertActionResponse is returned by POST /api/v1/alerts/{id}/{action}.
type AlertActionResponse struct {
	Alert     types.Alert `json:"alert"`
	Dismissed bool        `json:"dismissed"`
	Escalated bool        `json:"escalated"`
}

// listAlerts handles GET /api/v1/alerts?source=&status=&severity=&limit=.
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	q := r.URL.Query()
	source := types.AlertSource(q.Get("source"))
	status := types.AlertStatus(q.Get("status"))
	severity := types.Severity(q.Get("severity"))
	if status != "" && !status.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}

	out := []types.Alert{}
	for _, a := range s.log.Snapshot() {
		if !s.visible(a) {
			continue
		}
		if source != "" && a.Source != source {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		if severity != "" && a.Severity != severity {
			continue
		}
		out = append(out, a)
	}
	s.writeJSON(w, http.StatusOK, AlertsResponse{
		Alerts: truncate(out, limit),
		Unread: s.log.UnreadWhere(s.visible),
	})
}

// surfacedAlerts handles GET /api/v1/alerts/surfaced.
func (s *Server) surfacedAlerts(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.policy.Surface())
}

// markAllRead handles POST /api/v1/alerts/read.
func (s *Server) markAllRead(w http.ResponseWriter, _ *http.Request) {
	s.log.MarkAllAsRead()
	s.writeJSON(w, http.StatusOK, AlertsResponse{Alerts: []types.Alert{}, Unread: s.log.UnreadWhere(s.visible)})
}

// alertAction handles POST /api/v1/alerts/{id}/{action} where action is one
// of acknowledge, dismiss, escalate, resolve or reopen.
func (s *Server) alertAction(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, permissions.ManageAlerts) {
		return
	}
	id := r.PathValue("id")
	a, found := s.log.Get(id)
	if !found || !s.visible(a) {
		s.writeError(w, http.StatusNotFound, "alert "+id+" not found")
		return
	}

	var applied bool
	switch action := r.PathValue("action"); action {
	case "acknowledge":
		applied = s.policy.Acknowledge(id)
	case "dismiss":
		applied = s.policy.Dismiss(id)
	case "escalate":
		applied = s.policy.Escalate(id)
	case "resolve":
		applied = s.log.UpdateStatus(id, types.AlertStatusResolved)
	case "reopen":
		applied = s.log.UpdateStatus(id, types.AlertStatusUnresolved)
	default:
		s.writeError(w, http.StatusNotFound, "unknown alert action "+action)
		return
	}
	if !applied {
		s.writeError(w, http.StatusConflict, "alert "+id+" is not in a state that allows "+r.PathValue("action"))
		return
	}

	a, found = s.log.Get(id)
	if !found {
		s.writeError(w, http.StatusNotFound, "alert "+id+" not found")
		return
	}
	s.writeJSON(w, http.StatusOK, AlertActionResponse{
		Alert:     a,
		Dismissed: s.policy.IsDismissed(id),
		Escalated: s.policy.IsEscalated(id),
	})
}

func (s *Server) visible(a types.Alert) bool {
	return s.perms.Allowed(permissions.ViewAlerts(a.Source))
}
