package notifier

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/potooio/cdcwatch/internal/types"
)

// DispatcherOptions configures the Dispatcher behavior.
type DispatcherOptions struct {
	SuppressDuplicateMinutes int      // default 60
	RateLimitPerMinute       int      // default 100, per alert source
	DashboardURL             string   // base URL for payload deep links, optional
	Senders                  []Sender // external notification channels (webhook, log, etc.)
}

// DefaultDispatcherOptions returns sensible defaults.
func DefaultDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{
		SuppressDuplicateMinutes: 60,
		RateLimitPerMinute:       100,
	}
}

// Outcome is what Dispatch did with an alert.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeFiltered    Outcome = "filtered"
)

// sourceRateLimiter tracks rate limits per alert source.
type sourceRateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	rate       rate.Limit
	burst      int
}

func newSourceRateLimiter(perMinute int) *sourceRateLimiter {
	return &sourceRateLimiter{
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		rate:       rate.Limit(float64(perMinute) / 60.0),
		burst:      max(1, perMinute/10), // 10% burst, minimum 1
	}
}

func (s *sourceRateLimiter) Allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, exists := s.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(s.rate, s.burst)
		s.limiters[key] = limiter
	}
	s.lastAccess[key] = time.Now()
	return limiter.Allow()
}

// Evict removes limiters that haven't been accessed within maxAge.
func (s *sourceRateLimiter) Evict(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	for key, last := range s.lastAccess {
		if last.Before(cutoff) {
			delete(s.limiters, key)
			delete(s.lastAccess, key)
		}
	}
}

func sourceKey(a types.Alert) string {
	return string(a.Source) + "/" + a.SourceID.String()
}

// Dispatcher forwards alerts to the configured senders.
type Dispatcher struct {
	logger      *zap.Logger
	opts        DispatcherOptions
	limiter     *sourceRateLimiter
	senders     []Sender
	dedupeCache map[string]time.Time
	now         func() time.Time
	mu          sync.Mutex
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(logger *zap.Logger, opts DispatcherOptions) *Dispatcher {
	defaults := DefaultDispatcherOptions()
	if opts.SuppressDuplicateMinutes <= 0 {
		opts.SuppressDuplicateMinutes = defaults.SuppressDuplicateMinutes
	}
	if opts.RateLimitPerMinute <= 0 {
		opts.RateLimitPerMinute = defaults.RateLimitPerMinute
	}
	return &Dispatcher{
		logger:      logger.Named("dispatcher"),
		opts:        opts,
		limiter:     newSourceRateLimiter(opts.RateLimitPerMinute),
		senders:     opts.Senders,
		dedupeCache: make(map[string]time.Time),
		now:         time.Now,
	}
}

// Start begins background routines for cleanup and external senders. Non-blocking.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.cleanupDedupeCache(ctx)
	for _, s := range d.senders {
		s.Start(ctx)
		d.logger.Info("Started external sender", zap.String("sender", s.Name()))
	}
}

// Run dispatches every alert received on alerts until ctx is done or the
// channel is closed.
func (d *Dispatcher) Run(ctx context.Context, alerts <-chan types.Alert) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-alerts:
			if !ok {
				return
			}
			d.Dispatch(ctx, a)
		}
	}
}

// Dispatch forwards a single alert to every sender that accepts its severity.
// Sender errors are logged, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, a types.Alert) Outcome {
	outcome := d.dispatch(ctx, a)
	dispatchTotal.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (d *Dispatcher) dispatch(ctx context.Context, a types.Alert) Outcome {
	if !d.limiter.Allow(sourceKey(a)) {
		d.logger.Debug("Alert source rate limited", zap.String("source", sourceKey(a)))
		return OutcomeRateLimited
	}

	// Atomic check-and-mark to avoid a TOCTOU race between concurrent callers.
	if !d.tryMarkSeen(a.ID) {
		return OutcomeDuplicate
	}

	payload := BuildPayload(a, d.opts.DashboardURL)
	delivered := 0
	for _, s := range d.senders {
		if !s.ShouldSend(a.Severity) {
			continue
		}
		delivered++
		if err := s.Send(ctx, payload); err != nil {
			d.logger.Error("External sender enqueue failed",
				zap.String("sender", s.Name()),
				zap.String("alert_id", a.ID),
				zap.Error(err),
			)
		}
	}
	if delivered == 0 {
		return OutcomeFiltered
	}

	d.logger.Debug("Dispatched alert",
		zap.String("alert_id", a.ID),
		zap.String("severity", string(a.Severity)),
		zap.Int("senders", delivered),
	)
	return OutcomeSent
}

// tryMarkSeen reports whether id was not forwarded within the duplicate
// window, marking it as seen if so.
func (d *Dispatcher) tryMarkSeen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if seenAt, exists := d.dedupeCache[id]; exists {
		if now.Sub(seenAt) < d.window() {
			return false
		}
	}
	d.dedupeCache[id] = now
	return true
}

func (d *Dispatcher) window() time.Duration {
	return time.Duration(d.opts.SuppressDuplicateMinutes) * time.Minute
}

// pruneDedupeCache drops entries older than the duplicate window.
func (d *Dispatcher) pruneDedupeCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := d.now().Add(-d.window())
	for id, seenAt := range d.dedupeCache {
		if seenAt.Before(cutoff) {
			delete(d.dedupeCache, id)
		}
	}
}

// cleanupDedupeCache periodically removes old entries.
func (d *Dispatcher) cleanupDedupeCache(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pruneDedupeCache()
			// Sources not seen in an hour.
			d.limiter.Evict(time.Hour)
		}
	}
}
