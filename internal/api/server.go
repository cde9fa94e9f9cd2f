// Package api provides the HTTP read/act API over the dashboard stores.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/potooio/cdcwatch/internal/alerts"
	"github.com/potooio/cdcwatch/internal/eventstore"
	"github.com/potooio/cdcwatch/internal/permissions"
	"github.com/potooio/cdcwatch/internal/pipelines"
	"github.com/potooio/cdcwatch/internal/poller"
	"github.com/potooio/cdcwatch/internal/realtime"
	"github.com/potooio/cdcwatch/internal/subscription"
	"github.com/potooio/cdcwatch/internal/surfacing"
)

// Version is the API schema version reported by GET /api/v1/status.
const Version = "1"

// maxLimit caps the limit query parameter on list endpoints.
const maxLimit = 1000

// Connection is the part of the realtime client the API drives.
type Connection interface {
	Stats() realtime.ClientStats
	Subscriptions() *subscription.Registry
	Subscribe(channelID string) error
	Unsubscribe(channelID string) error
	RetryConnection()
}

// PollerStats reports the last snapshot poll.
type PollerStats interface {
	Stats() poller.Stats
}

// Options wires the Server to the stores it serves. Log, Events and Policy
// are required.
type Options struct {
	Log         *alerts.Log
	Events      *eventstore.Store
	Policy      *surfacing.Policy
	Pipelines   *pipelines.Tracker
	Connection  Connection
	Poller      PollerStats
	Permissions permissions.Evaluator
	Logger      *zap.Logger
}

// Server serves the /api/v1 routes.
type Server struct {
	logger    *zap.Logger
	log       *alerts.Log
	events    *eventstore.Store
	policy    *surfacing.Policy
	pipelines *pipelines.Tracker
	conn      Connection
	poller    PollerStats
	perms     permissions.Evaluator
	startTime time.Time
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Permissions == nil {
		opts.Permissions = permissions.AllowAll{}
	}
	return &Server{
		logger:    opts.Logger.Named("api"),
		log:       opts.Log,
		events:    opts.Events,
		policy:    opts.Policy,
		pipelines: opts.Pipelines,
		conn:      opts.Connection,
		poller:    opts.Poller,
		perms:     opts.Permissions,
		startTime: time.Now(),
	}
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/alerts", s.listAlerts)
	mux.HandleFunc("GET /api/v1/alerts/surfaced", s.surfacedAlerts)
	mux.HandleFunc("POST /api/v1/alerts/read", s.markAllRead)
	mux.HandleFunc("POST /api/v1/alerts/{id}/{action}", s.alertAction)
	mux.HandleFunc("GET /api/v1/events", s.listEvents)
	mux.HandleFunc("GET /api/v1/metrics", s.listMetrics)
	mux.HandleFunc("GET /api/v1/status", s.status)
	mux.HandleFunc("GET /api/v1/subscriptions", s.listSubscriptions)
	mux.HandleFunc("POST /api/v1/subscriptions/{id}", s.subscribe)
	mux.HandleFunc("DELETE /api/v1/subscriptions/{id}", s.unsubscribe)
	mux.HandleFunc("POST /api/v1/connection/retry", s.retryConnection)
	mux.HandleFunc("GET /api/v1/pipelines/provisional", s.listProvisional)
	mux.HandleFunc("POST /api/v1/pipelines/{id}/{action}", s.pipelineAction)
}

// Handler returns a mux serving only the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}

func (s *Server) require(w http.ResponseWriter, p permissions.Permission) bool {
	if s.perms.Allowed(p) {
		return true
	}
	s.writeError(w, http.StatusForbidden, "permission "+string(p)+" required")
	return false
}

// parseLimit reads the limit query parameter. Zero means no limit.
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return min(n, maxLimit), true
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
