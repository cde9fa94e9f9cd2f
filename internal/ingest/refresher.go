package ingest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/potooio/cdcwatch/internal/restapi"
	"github.com/potooio/cdcwatch/internal/types"
)

// EventSource lists replication events, newest first.
type EventSource interface {
	GetReplicationEvents(ctx context.Context, filter restapi.EventFilter) ([]types.ReplicationEvent, error)
}

// BatchSink stores a batch of replication events in slice order.
type BatchSink interface {
	AddEvents(events []types.ReplicationEvent) int
}

// BatchObserver derives alerts from a batch of replication events.
type BatchObserver interface {
	ObserveReplicationEvents(events []types.ReplicationEvent) int
}

// RefresherOptions configures the Refresher.
type RefresherOptions struct {
	// Limit is the number of recent events fetched per refresh. Default: 100.
	Limit int
	// Timeout bounds each REST call. Default: 10s.
	Timeout time.Duration
	// MinInterval spaces consecutive refreshes. Default: 500ms.
	MinInterval time.Duration
	Logger      *zap.Logger
}

// DefaultRefresherOptions returns sensible defaults.
func DefaultRefresherOptions() RefresherOptions {
	return RefresherOptions{
		Limit:       100,
		Timeout:     10 * time.Second,
		MinInterval: 500 * time.Millisecond,
		Logger:      zap.NewNop(),
	}
}

// Refresher backfills replication events over REST. Triggers for the same
// pipeline coalesce while a refresh is pending.
type Refresher struct {
	logger  *zap.Logger
	source  EventSource
	sink    BatchSink
	alerts  BatchObserver
	opts    RefresherOptions
	limiter *rate.Limiter

	mu      sync.Mutex
	pending []types.ID
	queued  map[types.ID]struct{}
	wake    chan struct{}
}

// NewRefresher creates a Refresher. alerts may be nil.
func NewRefresher(source EventSource, sink BatchSink, alerts BatchObserver, opts RefresherOptions) (*Refresher, error) {
	if source == nil || sink == nil {
		return nil, fmt.Errorf("event source and sink are required")
	}
	defaults := DefaultRefresherOptions()
	if opts.Limit <= 0 {
		opts.Limit = defaults.Limit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = 0
	}
	if opts.Logger == nil {
		opts.Logger = defaults.Logger
	}
	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}
	return &Refresher{
		logger:  opts.Logger.Named("refresher"),
		source:  source,
		sink:    sink,
		alerts:  alerts,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		queued:  make(map[types.ID]struct{}),
		wake:    make(chan struct{}, 1),
	}, nil
}

// Trigger schedules a refresh of pipelineID. It never blocks.
func (r *Refresher) Trigger(pipelineID types.ID) {
	if pipelineID.IsZero() {
		return
	}
	r.mu.Lock()
	if _, ok := r.queued[pipelineID]; ok {
		r.mu.Unlock()
		refreshTotal.WithLabelValues("coalesced").Inc()
		return
	}
	r.queued[pipelineID] = struct{}{}
	r.pending = append(r.pending, pipelineID)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued refreshes.
func (r *Refresher) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run processes triggers until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.wake:
		}

		for {
			id, ok := r.next()
			if !ok {
				break
			}
			if err := r.limiter.Wait(ctx); err != nil {
				return nil
			}
			if _, err := r.Refresh(ctx, id); err != nil && ctx.Err() == nil {
				r.logger.Warn("event refresh failed",
					zap.String("pipeline", id.String()),
					zap.Error(err))
			}
		}
	}
}

func (r *Refresher) next() (types.ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return "", false
	}
	id := r.pending[0]
	r.pending = r.pending[1:]
	delete(r.queued, id)
	return id, true
}

// Refresh fetches the latest events for pipelineID and applies them oldest
// first, so the newest event ends up at the head of the store. Returns the
// number of events that were new.
func (r *Refresher) Refresh(ctx context.Context, pipelineID types.ID) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	events, err := r.source.GetReplicationEvents(callCtx, restapi.EventFilter{
		PipelineID: pipelineID,
		Limit:      r.opts.Limit,
	})
	if err != nil {
		refreshTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("refresh pipeline %s: %w", pipelineID, err)
	}

	slices.Reverse(events)
	inserted := r.sink.AddEvents(events)
	if r.alerts != nil {
		r.alerts.ObserveReplicationEvents(events)
	}
	refreshTotal.WithLabelValues("ok").Inc()
	r.logger.Debug("refreshed events",
		zap.String("pipeline", pipelineID.String()),
		zap.Int("fetched", len(events)),
		zap.Int("inserted", inserted))
	return inserted, nil
}
