// Package pipelines tracks the status the operator expects a pipeline to be
// in after an action, until the backend confirms or contradicts it.
//
// A provisional status is shown in place of the backend status until one of:
//
//   - the backend reports the same status (confirmed)
//   - the backend disagreed MaxReconciliations times (overridden)
//   - Window elapsed since the action (expired)
//
// In the last two cases the backend status wins.
package pipelines

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/potooio/cdcwatch/internal/types"
)

// Action is an operator action on a pipeline.
type Action string

const (
	ActionStart  Action = "start"
	ActionResume Action = "resume"
	ActionPause  Action = "pause"
	ActionStop   Action = "stop"
)

// ExpectedStatus returns the status a successful action leads to.
func ExpectedStatus(a Action) (types.PipelineStatus, bool) {
	switch a {
	case ActionStart, ActionResume:
		return types.PipelineStatusActive, true
	case ActionPause:
		return types.PipelineStatusPaused, true
	case ActionStop:
		return types.PipelineStatusStopped, true
	default:
		return "", false
	}
}

// Resolution is the outcome of reconciling one backend observation.
type Resolution string

const (
	// ResolutionNone means there was no provisional status to reconcile.
	ResolutionNone Resolution = "none"
	// ResolutionConfirmed means the backend agreed.
	ResolutionConfirmed Resolution = "confirmed"
	// ResolutionPending means the backend disagreed but the provisional status stands for now.
	ResolutionPending Resolution = "pending"
	// ResolutionOverridden means the backend disagreed too often and won.
	ResolutionOverridden Resolution = "overridden"
	// ResolutionExpired means the window elapsed and the backend won.
	ResolutionExpired Resolution = "expired"
)

// Options configures the Tracker.
type Options struct {
	// Window is how long a provisional status may stand. Default: 10s.
	Window time.Duration
	// MaxReconciliations is the number of disagreeing backend observations
	// after which the backend wins. Default: 2.
	MaxReconciliations int
	Now                func() time.Time
	Logger             *zap.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Window:             10 * time.Second,
		MaxReconciliations: 2,
		Now:                time.Now,
		Logger:             zap.NewNop(),
	}
}

// Provisional is an unconfirmed expected status.
type Provisional struct {
	PipelineID      types.ID             `json:"pipeline_id"`
	Expected        types.PipelineStatus `json:"expected"`
	Since           time.Time            `json:"since"`
	Disagreements   int                  `json:"disagreements"`
	LastBackendSeen types.PipelineStatus `json:"last_backend_status,omitempty"`
}

// Tracker holds provisional statuses and the last backend status per pipeline.
type Tracker struct {
	logger *zap.Logger
	opts   Options

	mu          sync.Mutex
	provisional map[types.ID]*Provisional
	backend     map[types.ID]types.PipelineStatus
}

// NewTracker creates a Tracker.
func NewTracker(opts Options) *Tracker {
	defaults := DefaultOptions()
	if opts.Window <= 0 {
		opts.Window = defaults.Window
	}
	if opts.MaxReconciliations <= 0 {
		opts.MaxReconciliations = defaults.MaxReconciliations
	}
	if opts.Now == nil {
		opts.Now = defaults.Now
	}
	if opts.Logger == nil {
		opts.Logger = defaults.Logger
	}
	return &Tracker{
		logger:      opts.Logger.Named("pipelines"),
		opts:        opts,
		provisional: make(map[types.ID]*Provisional),
		backend:     make(map[types.ID]types.PipelineStatus),
	}
}

// SetProvisional records that the operator expects id to reach status. A
// newer expectation replaces an older one and restarts the window.
func (t *Tracker) SetProvisional(id types.ID, status types.PipelineStatus) {
	if id.IsZero() || status == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.backend[id] == status {
		delete(t.provisional, id)
		return
	}
	t.provisional[id] = &Provisional{
		PipelineID: id,
		Expected:   status,
		Since:      t.opts.Now(),
	}
}

// ApplyAction sets the provisional status an action leads to. Returns false
// for unknown actions.
func (t *Tracker) ApplyAction(id types.ID, a Action) bool {
	status, ok := ExpectedStatus(a)
	if !ok {
		return false
	}
	t.SetProvisional(id, status)
	return true
}

// ObserveBackend reconciles one backend report for id.
func (t *Tracker) ObserveBackend(id types.ID, status types.PipelineStatus) Resolution {
	if id.IsZero() || status == "" {
		return ResolutionNone
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.backend[id] = status

	p, ok := t.provisional[id]
	if !ok {
		return ResolutionNone
	}
	res := t.reconcileLocked(p, status)
	reconciliationsTotal.WithLabelValues(string(res)).Inc()
	switch res {
	case ResolutionConfirmed:
		delete(t.provisional, id)
	case ResolutionOverridden, ResolutionExpired:
		t.logger.Info("backend status overrides provisional status",
			zap.String("pipeline", id.String()),
			zap.String("expected", string(p.Expected)),
			zap.String("backend", string(status)),
			zap.String("reason", string(res)))
		delete(t.provisional, id)
	}
	return res
}

func (t *Tracker) reconcileLocked(p *Provisional, status types.PipelineStatus) Resolution {
	if status == p.Expected {
		return ResolutionConfirmed
	}
	if t.expiredLocked(p) {
		return ResolutionExpired
	}
	p.Disagreements++
	p.LastBackendSeen = status
	if p.Disagreements >= t.opts.MaxReconciliations {
		return ResolutionOverridden
	}
	return ResolutionPending
}

func (t *Tracker) expiredLocked(p *Provisional) bool {
	return t.opts.Now().Sub(p.Since) >= t.opts.Window
}

// ObserveStatus implements the ingest status observer for pipeline_status frames.
func (t *Tracker) ObserveStatus(u types.PipelineStatusUpdate) {
	t.ObserveBackend(u.PipelineID, u.Status)
}

// ObservePipelines reconciles a backend snapshot.
func (t *Tracker) ObservePipelines(ps []types.Pipeline) {
	for _, p := range ps {
		t.ObserveBackend(p.ID, p.Status)
	}
}

// Status returns the status to display for id and whether it is provisional.
func (t *Tracker) Status(id types.ID) (types.PipelineStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.provisional[id]; ok {
		if !t.expiredLocked(p) {
			return p.Expected, true
		}
		delete(t.provisional, id)
		reconciliationsTotal.WithLabelValues(string(ResolutionExpired)).Inc()
	}
	return t.backend[id], false
}

// Provisionals returns the unexpired provisional statuses sorted by pipeline ID.
func (t *Tracker) Provisionals() []Provisional {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Provisional, 0, len(t.provisional))
	for _, p := range t.provisional {
		if !t.expiredLocked(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PipelineID < out[j].PipelineID })
	return out
}

// Expire drops provisional statuses whose window elapsed. Returns the number dropped.
func (t *Tracker) Expire() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, p := range t.provisional {
		if t.expiredLocked(p) {
			delete(t.provisional, id)
			reconciliationsTotal.WithLabelValues(string(ResolutionExpired)).Inc()
			n++
		}
	}
	return n
}
