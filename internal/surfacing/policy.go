// Package surfacing selects the handful of alerts shown prominently to the
// operator. It keeps its own dismissed and escalated sets; the alert log
// stays the source of truth for status.
package surfacing

import (
	"sync"

	"go.uber.org/zap"

	"github.com/potooio/cdcwatch/internal/alerts"
	"github.com/potooio/cdcwatch/internal/permissions"
	"github.com/potooio/cdcwatch/internal/types"
)

// DefaultMaxSurfaced is the number of alerts surfaced at once.
const DefaultMaxSurfaced = 3

// Options configures a Policy.
type Options struct {
	// MaxSurfaced caps View.Alerts. Default: 3.
	MaxSurfaced int
	// Permissions hides alerts from sources the role may not view. Nil allows all.
	Permissions permissions.Evaluator
	Logger      *zap.Logger
}

// View is the surfaced subset of the alert log.
type View struct {
	// Alerts are newest first.
	Alerts []types.Alert `json:"alerts"`
	// Remaining is the unread count of visible alerts not covered by Alerts
	// ("N more alerts").
	Remaining int `json:"remaining"`
}

// Policy filters the alert log down to a small stable view.
type Policy struct {
	logger *zap.Logger
	log    *alerts.Log
	perms  permissions.Evaluator
	max    int

	mu        sync.Mutex
	dismissed map[string]struct{}
	escalated map[string]struct{}
}

// NewPolicy creates a Policy over log.
func NewPolicy(log *alerts.Log, opts Options) *Policy {
	if opts.MaxSurfaced <= 0 {
		opts.MaxSurfaced = DefaultMaxSurfaced
	}
	if opts.Permissions == nil {
		opts.Permissions = permissions.AllowAll{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Policy{
		logger:    opts.Logger.Named("surfacing"),
		log:       log,
		perms:     opts.Permissions,
		max:       opts.MaxSurfaced,
		dismissed: make(map[string]struct{}),
		escalated: make(map[string]struct{}),
	}
}

// Surface returns up to MaxSurfaced unresolved critical or high alerts (or
// locally escalated ones) that were not dismissed and are visible to the
// role, in the log's newest-first order.
func (p *Policy) Surface() View {
	snapshot := p.log.Snapshot()
	unread := p.log.UnreadWhere(p.visible)

	p.mu.Lock()
	defer p.mu.Unlock()

	surfaced := make([]types.Alert, 0, p.max)
	for _, a := range snapshot {
		if len(surfaced) == p.max {
			break
		}
		if p.eligibleLocked(a) {
			surfaced = append(surfaced, a)
		}
	}
	return View{
		Alerts:    surfaced,
		Remaining: max(0, unread-len(surfaced)),
	}
}

func (p *Policy) eligibleLocked(a types.Alert) bool {
	if !a.IsUnresolved() {
		return false
	}
	if _, ok := p.dismissed[a.ID]; ok {
		return false
	}
	if !p.visible(a) {
		return false
	}
	if _, ok := p.escalated[a.ID]; ok {
		return true
	}
	return a.Severity == types.SeverityCritical || a.Severity == types.SeverityHigh
}

func (p *Policy) visible(a types.Alert) bool {
	return p.perms.Allowed(permissions.ViewAlerts(a.Source))
}

// Acknowledge marks the alert acknowledged in the log and hides it at once.
// Returns false if the alert is unknown.
func (p *Policy) Acknowledge(id string) bool {
	if !p.log.UpdateStatus(id, types.AlertStatusAcknowledged) {
		return false
	}
	p.mu.Lock()
	p.dismissed[id] = struct{}{}
	delete(p.escalated, id)
	p.mu.Unlock()
	p.logger.Debug("alert acknowledged", zap.String("alert", id))
	return true
}

// Dismiss hides the alert from the surfaced view only. Its status in the log
// is unchanged. Returns false if the alert is unknown.
func (p *Policy) Dismiss(id string) bool {
	if !p.log.Has(id) {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dismissed[id] = struct{}{}
	delete(p.escalated, id)
	return true
}

// Escalate surfaces an unresolved alert regardless of severity and clears a
// previous dismissal. The log is not modified. Returns false if the alert is
// unknown or not unresolved.
func (p *Policy) Escalate(id string) bool {
	a, ok := p.log.Get(id)
	if !ok || !a.IsUnresolved() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.escalated[id] = struct{}{}
	delete(p.dismissed, id)
	return true
}

// IsDismissed reports whether id is in the local dismissed set.
func (p *Policy) IsDismissed(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.dismissed[id]
	return ok
}

// IsEscalated reports whether id is in the local escalated set.
func (p *Policy) IsEscalated(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.escalated[id]
	return ok
}

// Reset clears the local dismissed and escalated sets.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.dismissed)
	clear(p.escalated)
}

// Prune forgets local state for alerts no longer in the log. Returns the
// number of entries removed.
func (p *Policy) Prune() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for id := range p.dismissed {
		if !p.log.Has(id) {
			delete(p.dismissed, id)
			removed++
		}
	}
	for id := range p.escalated {
		if !p.log.Has(id) {
			delete(p.escalated, id)
			removed++
		}
	}
	return removed
}
