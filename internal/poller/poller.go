// Package poller periodically snapshots pipelines and connections over REST
// and feeds them to the alert correlator and the provisional status tracker.
//
// It is the fallback when the realtime transport is unavailable and a
// backstop for state the event stream does not carry (connection tests,
// pipeline errors). The correlator's dedup keys make repeated snapshots of
// the same state harmless.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/potooio/cdcwatch/internal/types"
)

// Source lists the domain records to poll.
type Source interface {
	ListPipelines(ctx context.Context) ([]types.Pipeline, error)
	ListConnections(ctx context.Context) ([]types.Connection, error)
}

// AlertObserver derives alerts from domain snapshots.
type AlertObserver interface {
	ObservePipelines(pipelines []types.Pipeline) int
	ObserveConnections(conns []types.Connection) int
}

// PipelineObserver reconciles provisional pipeline status.
type PipelineObserver interface {
	ObservePipelines(pipelines []types.Pipeline)
}

// Options configures the Poller.
type Options struct {
	// Interval between polls while the realtime transport is available. Default: 30s.
	Interval time.Duration
	// FallbackInterval between polls while it is not. Default: 5s.
	FallbackInterval time.Duration
	// Timeout bounds each poll. Default: 10s.
	Timeout time.Duration
	// Available reports realtime transport availability. Nil means always available.
	Available func() bool
	Logger    *zap.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Interval:         30 * time.Second,
		FallbackInterval: 5 * time.Second,
		Timeout:          10 * time.Second,
		Logger:           zap.NewNop(),
	}
}

// Result summarizes one poll.
type Result struct {
	Pipelines   int       `json:"pipelines"`
	Connections int       `json:"connections"`
	NewAlerts   int       `json:"new_alerts"`
	At          time.Time `json:"at"`
}

// Poller snapshots domain state on a timer.
type Poller struct {
	logger    *zap.Logger
	source    Source
	alerts    AlertObserver
	pipelines PipelineObserver
	opts      Options

	mu      sync.Mutex
	last    Result
	lastErr error
	polls   uint64
}

// New creates a Poller. pipelines may be nil.
func New(source Source, alerts AlertObserver, pipelines PipelineObserver, opts Options) (*Poller, error) {
	if source == nil || alerts == nil {
		return nil, fmt.Errorf("source and alert observer are required")
	}
	defaults := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = defaults.Interval
	}
	if opts.FallbackInterval <= 0 {
		opts.FallbackInterval = defaults.FallbackInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.Logger == nil {
		opts.Logger = defaults.Logger
	}
	return &Poller{
		logger:    opts.Logger.Named("poller"),
		source:    source,
		alerts:    alerts,
		pipelines: pipelines,
		opts:      opts,
	}, nil
}

// Run polls immediately and then on every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Starting poller",
		zap.Duration("interval", p.opts.Interval),
		zap.Duration("fallback_interval", p.opts.FallbackInterval))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("Poll failed", zap.Error(err))
			}
			timer.Reset(p.nextInterval())
		}
	}
}

func (p *Poller) nextInterval() time.Duration {
	if p.opts.Available != nil && !p.opts.Available() {
		return p.opts.FallbackInterval
	}
	return p.opts.Interval
}

// Poll fetches pipelines and connections concurrently and applies whatever
// succeeded. A failure of one list does not discard the other.
func (p *Poller) Poll(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	var (
		pipelines   []types.Pipeline
		conns       []types.Connection
		pipelineErr error
		connErr     error
		g           errgroup.Group
	)
	// Each list is applied on its own, so the goroutines keep their errors
	// rather than returning them; Wait would only report the first.
	g.Go(func() error {
		pipelines, pipelineErr = p.source.ListPipelines(ctx)
		return nil
	})
	g.Go(func() error {
		conns, connErr = p.source.ListConnections(ctx)
		return nil
	})
	_ = g.Wait() // always nil

	res := Result{At: time.Now()}
	if pipelineErr == nil {
		res.Pipelines = len(pipelines)
		res.NewAlerts += p.alerts.ObservePipelines(pipelines)
		if p.pipelines != nil {
			p.pipelines.ObservePipelines(pipelines)
		}
	} else {
		pipelineErr = fmt.Errorf("list pipelines: %w", pipelineErr)
	}
	if connErr == nil {
		res.Connections = len(conns)
		res.NewAlerts += p.alerts.ObserveConnections(conns)
	} else {
		connErr = fmt.Errorf("list connections: %w", connErr)
	}

	err := errors.Join(pipelineErr, connErr)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	pollsTotal.WithLabelValues(outcome).Inc()

	p.mu.Lock()
	p.polls++
	p.last = res
	p.lastErr = err
	p.mu.Unlock()

	if res.NewAlerts > 0 {
		p.logger.Info("Poll raised new alerts", zap.Int("count", res.NewAlerts))
	}
	return res, err
}

// Stats describes polling progress.
type Stats struct {
	Polls     uint64 `json:"polls"`
	Last      Result `json:"last"`
	LastError string `json:"last_error,omitempty"`
}

// Stats returns the most recent poll result and the number of polls so far.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Polls: p.polls, Last: p.last}
	if p.lastErr != nil {
		s.LastError = p.lastErr.Error()
	}
	return s
}
