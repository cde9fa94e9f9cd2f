package api

import (
	"net/http"
	"time"

	"github.com/potooio/cdcwatch/internal/pipelines"
)

// StatusResponse is the wire format for GET /api/v1/status.
type StatusResponse struct {
	// Version is the API schema version. Currently "1".
	Version string `json:"version"`

	// UpSince is when the server started.
	UpSince string `json:"upSince"`

	// Connection describes the realtime transport. Nil when not wired.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	// Events and Metrics are the current store sizes.
	Events  int `json:"events"`
	Metrics int `json:"metrics"`

	// Alerts is the alert log size; Unread counts unread alerts the role may view.
	Alerts int `json:"alerts"`
	Unread int `json:"unread"`

	// Provisional lists pipelines whose status is awaiting backend confirmation.
	Provisional []pipelines.Provisional `json:"provisional,omitempty"`

	// Poller describes the last snapshot poll. Nil when not wired.
	Poller *PollerStatus `json:"poller,omitempty"`
}

// ConnectionStatus describes the realtime transport.
type ConnectionStatus struct {
	State          string   `json:"state"`
	ErrorCount     int      `json:"errorCount"`
	Reconnects     uint64   `json:"reconnects"`
	FramesReceived uint64   `json:"framesReceived"`
	FramesDropped  uint64   `json:"framesDropped"`
	LastError      string   `json:"lastError,omitempty"`
	Subscriptions  []string `json:"subscriptions"`
}

// PollerStatus describes the snapshot poller.
type PollerStatus struct {
	Polls       uint64 `json:"polls"`
	LastPoll    string `json:"lastPoll,omitempty"`
	Pipelines   int    `json:"pipelines"`
	Connections int    `json:"connections"`
	LastError   string `json:"lastError,omitempty"`
}

// status handles GET /api/v1/status.
func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.buildStatus())
}

func (s *Server) buildStatus() StatusResponse {
	resp := StatusResponse{
		Version: Version,
		UpSince: s.startTime.UTC().Format(time.RFC3339),
		Events:  s.events.Len(),
		Metrics: s.events.MetricsLen(),
		Alerts:  s.log.Len(),
		Unread:  s.log.UnreadWhere(s.visible),
	}
	if s.conn != nil {
		stats := s.conn.Stats()
		resp.Connection = &ConnectionStatus{
			State:          string(stats.State),
			ErrorCount:     stats.ErrorCount,
			Reconnects:     stats.Reconnects,
			FramesReceived: stats.FramesReceived,
			FramesDropped:  stats.FramesDropped,
			LastError:      stats.LastError,
			Subscriptions:  s.conn.Subscriptions().List(),
		}
	}
	if s.pipelines != nil {
		resp.Provisional = s.pipelines.Provisionals()
	}
	if s.poller != nil {
		stats := s.poller.Stats()
		ps := &PollerStatus{
			Polls:       stats.Polls,
			Pipelines:   stats.Last.Pipelines,
			Connections: stats.Last.Connections,
			LastError:   stats.LastError,
		}
		if !stats.Last.At.IsZero() {
			ps.LastPoll = stats.Last.At.UTC().Format(time.RFC3339)
		}
		resp.Poller = ps
	}
	return resp
}
