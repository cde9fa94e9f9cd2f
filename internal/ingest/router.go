package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/potooio/cdcwatch/internal/realtime"
	"github.com/potooio/cdcwatch/internal/types"
)

// EventSink stores replication events and metrics.
type EventSink interface {
	AddEvent(e types.ReplicationEvent) bool
	AddMetric(m types.Metric)
}

// ReplicationObserver derives alerts from replication events.
type ReplicationObserver interface {
	ObserveReplicationEvent(e types.ReplicationEvent) bool
}

// StatusObserver consumes pipeline_status updates.
type StatusObserver interface {
	ObserveStatus(u types.PipelineStatusUpdate)
}

// RefreshTrigger schedules a REST backfill for a pipeline.
type RefreshTrigger interface {
	Trigger(pipelineID types.ID)
}

// RouterOptions wires the Router to its collaborators. Events is required;
// the rest are optional.
type RouterOptions struct {
	Events    EventSink
	Alerts    ReplicationObserver
	Statuses  StatusObserver
	Refresher RefreshTrigger
	Logger    *zap.Logger
}

// Router dispatches frames by type. It implements realtime.Handler.
type Router struct {
	logger    *zap.Logger
	validate  *validator.Validate
	events    EventSink
	alerts    ReplicationObserver
	statuses  StatusObserver
	refresher RefreshTrigger

	mu       sync.RWMutex
	selected types.ID
}

var _ realtime.Handler = (*Router)(nil)

// NewRouter creates a Router.
func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.Events == nil {
		return nil, fmt.Errorf("event sink is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Router{
		logger:    opts.Logger.Named("ingest"),
		validate:  validator.New(),
		events:    opts.Events,
		alerts:    opts.Alerts,
		statuses:  opts.Statuses,
		refresher: opts.Refresher,
	}, nil
}

// SetSelectedPipeline sets the pipeline the operator is looking at. Every
// replication event refreshes it; with nothing selected the event's own
// pipeline is refreshed.
func (r *Router) SetSelectedPipeline(id types.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = id
}

// SelectedPipeline returns the pipeline set by SetSelectedPipeline.
func (r *Router) SelectedPipeline() types.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected
}

// HandleFrame implements realtime.Handler.
func (r *Router) HandleFrame(_ context.Context, f realtime.Frame) {
	switch f.Type {
	case realtime.TypeReplicationEvent:
		var e types.ReplicationEvent
		if !r.decode(f, &e) {
			return
		}
		r.handleReplicationEvent(e)
	case realtime.TypeMonitoringMetric:
		var m types.Metric
		if !r.decode(f, &m) {
			return
		}
		r.events.AddMetric(m)
		framesTotal.WithLabelValues(f.Type, "applied").Inc()
	case realtime.TypePipelineStatus:
		var u types.PipelineStatusUpdate
		if !r.decode(f, &u) {
			return
		}
		r.logger.Info("pipeline status update",
			zap.String("pipeline", u.PipelineID.String()),
			zap.String("status", string(u.Status)),
			zap.String("message", u.Message))
		if r.statuses != nil {
			r.statuses.ObserveStatus(u)
		}
		framesTotal.WithLabelValues(f.Type, "applied").Inc()
	default:
		r.logger.Debug("ignoring frame of unknown type", zap.String("type", f.Type))
		framesTotal.WithLabelValues("unknown", "ignored").Inc()
	}
}

func (r *Router) handleReplicationEvent(e types.ReplicationEvent) {
	if !r.events.AddEvent(e) {
		framesTotal.WithLabelValues(realtime.TypeReplicationEvent, "duplicate").Inc()
	} else {
		framesTotal.WithLabelValues(realtime.TypeReplicationEvent, "applied").Inc()
	}
	// Redelivery is harmless here: the correlator dedups on the event ID.
	if r.alerts != nil {
		r.alerts.ObserveReplicationEvent(e)
	}
	if r.refresher != nil {
		target := r.SelectedPipeline()
		if target.IsZero() {
			target = e.PipelineID
		}
		r.refresher.Trigger(target)
	}
}

// decode unmarshals and validates the frame payload into out.
func (r *Router) decode(f realtime.Frame, out any) bool {
	if len(f.Data) == 0 {
		r.drop(f.Type, "missing data", nil)
		return false
	}
	if err := json.Unmarshal(f.Data, out); err != nil {
		r.drop(f.Type, "undecodable payload", err)
		return false
	}
	if err := r.validate.Struct(out); err != nil {
		r.drop(f.Type, "invalid payload", err)
		return false
	}
	return true
}

func (r *Router) drop(frameType, reason string, err error) {
	r.logger.Warn("dropping frame",
		zap.String("type", frameType),
		zap.String("reason", reason),
		zap.Error(err))
	framesTotal.WithLabelValues(frameType, "dropped").Inc()
}
