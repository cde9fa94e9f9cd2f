package eventstore

import (
	"sync"

	"go.uber.org/zap"

	"github.com/potooio/cdcwatch/internal/ringbuf"
	"github.com/potooio/cdcwatch/internal/types"
)

// DefaultCapacity bounds both the event and the metric window.
const DefaultCapacity = 1000

// Options configures the Store.
type Options struct {
	// EventCapacity is the maximum number of replication events kept. Default: 1000.
	EventCapacity int

	// MetricCapacity is the maximum number of metrics kept. Default: 1000.
	MetricCapacity int

	// Logger for the store
	Logger *zap.Logger
}

// DefaultOptions returns default options for the Store.
func DefaultOptions() Options {
	return Options{
		EventCapacity:  DefaultCapacity,
		MetricCapacity: DefaultCapacity,
		Logger:         zap.NewNop(),
	}
}

// Store is a concurrent-safe, bounded, newest-first window of replication
// events and monitoring metrics. Events are deduplicated by ID with
// first-delivery-wins semantics; metrics are append-only.
type Store struct {
	logger *zap.Logger

	mu      sync.RWMutex
	events  *ringbuf.Buffer[types.ReplicationEvent]
	byID    map[types.ID]struct{}
	metrics *ringbuf.Buffer[types.Metric]
}

// New creates an empty Store.
func New(opts Options) *Store {
	defaults := DefaultOptions()
	if opts.EventCapacity <= 0 {
		opts.EventCapacity = defaults.EventCapacity
	}
	if opts.MetricCapacity <= 0 {
		opts.MetricCapacity = defaults.MetricCapacity
	}
	if opts.Logger == nil {
		opts.Logger = defaults.Logger
	}
	return &Store{
		logger:  opts.Logger.Named("eventstore"),
		events:  ringbuf.New[types.ReplicationEvent](opts.EventCapacity),
		byID:    make(map[types.ID]struct{}, opts.EventCapacity),
		metrics: ringbuf.New[types.Metric](opts.MetricCapacity),
	}
}

// AddEvent stores e at the head of the window. If an event with the same ID
// is already stored the call is a no-op and the stored entry is left
// untouched. Returns true if e was inserted.
func (s *Store) AddEvent(e types.ReplicationEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addEventLocked(e)
}

// AddEvents applies AddEvent to each element in slice order under a single
// lock, so the batch is observed atomically. Duplicates inside the batch are
// resolved the same way as across calls: the first occurrence wins. Returns
// the number of inserted events.
func (s *Store) AddEvents(events []types.ReplicationEvent) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, e := range events {
		if s.addEventLocked(e) {
			inserted++
		}
	}
	return inserted
}

func (s *Store) addEventLocked(e types.ReplicationEvent) bool {
	if e.ID.IsZero() {
		s.logger.Debug("Dropping replication event without id", zap.String("pipeline", e.PipelineID.String()))
		eventsTotal.WithLabelValues("invalid").Inc()
		return false
	}
	if _, exists := s.byID[e.ID]; exists {
		eventsTotal.WithLabelValues("duplicate").Inc()
		return false
	}
	old, evicted := s.events.PushFront(e)
	if evicted {
		delete(s.byID, old.ID)
		evictionsTotal.WithLabelValues("event").Inc()
	}
	s.byID[e.ID] = struct{}{}
	eventsTotal.WithLabelValues("stored").Inc()
	return true
}

// AddMetric stores m at the head of the metric window, evicting the oldest
// metric on overflow.
func (s *Store) AddMetric(m types.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, evicted := s.metrics.PushFront(m); evicted {
		evictionsTotal.WithLabelValues("metric").Inc()
	}
}

// Event returns the stored event with the given ID.
func (s *Store) Event(id types.ID) (types.ReplicationEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.byID[id]; !ok {
		return types.ReplicationEvent{}, false
	}
	i := s.events.Index(func(e types.ReplicationEvent) bool { return e.ID == id })
	if i < 0 {
		return types.ReplicationEvent{}, false
	}
	return s.events.At(i), true
}

// Events returns a newest-first snapshot of all stored events.
func (s *Store) Events() []types.ReplicationEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events.Snapshot()
}

// EventsForPipeline returns a newest-first snapshot of events for one pipeline.
func (s *Store) EventsForPipeline(pipelineID types.ID) []types.ReplicationEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []types.ReplicationEvent
	s.events.Each(func(_ int, e types.ReplicationEvent) bool {
		if e.PipelineID == pipelineID {
			result = append(result, e)
		}
		return true
	})
	return result
}

// Metrics returns a newest-first snapshot of all stored metrics.
func (s *Store) Metrics() []types.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics.Snapshot()
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events.Len()
}

// MetricsLen returns the number of stored metrics.
func (s *Store) MetricsLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics.Len()
}

// Clear drops all events and metrics.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.Clear()
	s.metrics.Clear()
	clear(s.byID)
}
