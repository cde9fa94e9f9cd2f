package api

import (
	"errors"
	"net/http"

	"github.com/potooio/cdcwatch/internal/permissions"
	"github.com/potooio/cdcwatch/internal/realtime"
	"github.com/potooio/cdcwatch/internal/subscription"
)

// SubscriptionsResponse is the wire format for the subscription routes.
type SubscriptionsResponse struct {
	Subscriptions []string `json:"subscriptions"`
}

// listSubscriptions handles GET /api/v1/subscriptions.
func (s *Server) listSubscriptions(w http.ResponseWriter, _ *http.Request) {
	if !s.requireConnection(w) {
		return
	}
	s.writeJSON(w, http.StatusOK, SubscriptionsResponse{Subscriptions: s.conn.Subscriptions().List()})
}

// subscribe handles POST /api/v1/subscriptions/{id}. A subscription that
// could not be sent yet is still registered and replayed on the next
// connect, so a write failure answers 202.
func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	if !s.requireConnection(w) || !s.require(w, permissions.ManageSubscriptions) {
		return
	}
	err := s.conn.Subscribe(r.PathValue("id"))
	switch {
	case errors.Is(err, subscription.ErrInvalidChannel):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Debug("Subscription deferred to next connect")
		s.writeJSON(w, http.StatusAccepted, SubscriptionsResponse{Subscriptions: s.conn.Subscriptions().List()})
	default:
		s.writeJSON(w, http.StatusOK, SubscriptionsResponse{Subscriptions: s.conn.Subscriptions().List()})
	}
}

// unsubscribe handles DELETE /api/v1/subscriptions/{id}.
func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	if !s.requireConnection(w) || !s.require(w, permissions.ManageSubscriptions) {
		return
	}
	err := s.conn.Unsubscribe(r.PathValue("id"))
	switch {
	case errors.Is(err, subscription.ErrInvalidChannel):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case err != nil && !errors.Is(err, realtime.ErrNotConnected):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, SubscriptionsResponse{Subscriptions: s.conn.Subscriptions().List()})
	}
}

// retryConnection handles POST /api/v1/connection/retry.
func (s *Server) retryConnection(w http.ResponseWriter, _ *http.Request) {
	if !s.requireConnection(w) || !s.require(w, permissions.RetryConnection) {
		return
	}
	s.conn.RetryConnection()
	s.writeJSON(w, http.StatusAccepted, s.buildStatus().Connection)
}

func (s *Server) requireConnection(w http.ResponseWriter) bool {
	if s.conn != nil {
		return true
	}
	s.writeError(w, http.StatusServiceUnavailable, "realtime connection is not configured")
	return false
}
