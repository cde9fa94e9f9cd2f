// Package subscription records which pipeline channels the client wants
// events for, independent of transport state.
//
// Channels are added on the first Subscribe and only removed by an explicit
// Unsubscribe. The registry survives reconnects: the connection manager
// replays every entry after each successful connect. MarkEmitted makes the
// replay and an immediate subscribe racing it emit at most one subscribe
// frame per channel per connection epoch.
package subscription

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrInvalidChannel is returned for channel identifiers that can never name a pipeline.
var ErrInvalidChannel = errors.New("invalid channel id")

// Validate rejects empty identifiers and the string forms of missing or
// non-finite values ("undefined", "null", "NaN", "Infinity").
func Validate(channelID string) error {
	trimmed := strings.TrimSpace(channelID)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidChannel)
	}
	switch strings.ToLower(trimmed) {
	case "undefined", "null", "nan":
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channelID)
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return fmt.Errorf("%w: non-finite %q", ErrInvalidChannel, channelID)
	}
	return nil
}

// Registry is a concurrent-safe set of channel identifiers.
type Registry struct {
	mu sync.Mutex
	// channels maps each channel to the connection epoch in which its
	// subscribe frame was last emitted (0 = never).
	channels map[string]uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]uint64)}
}

// Add registers channelID. Returns false if it was already present or invalid.
func (r *Registry) Add(channelID string) bool {
	if Validate(channelID) != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[channelID]; ok {
		return false
	}
	r.channels[channelID] = 0
	return true
}

// Remove unregisters channelID. Returns true if it was present.
func (r *Registry) Remove(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[channelID]; !ok {
		return false
	}
	delete(r.channels, channelID)
	return true
}

// Has reports whether channelID is registered.
func (r *Registry) Has(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.channels[channelID]
	return ok
}

// List returns the registered channels in sorted order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.channels))
	for ch := range r.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// MarkEmitted records that a subscribe frame for channelID is being sent in
// connection epoch. Returns true only for the first call per channel and
// epoch; false for unregistered channels and for epochs older than the last
// one emitted, so a caller holding a stale epoch cannot emit twice.
func (r *Registry) MarkEmitted(channelID string, epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.channels[channelID]
	if !ok || last >= epoch {
		return false
	}
	r.channels[channelID] = epoch
	return true
}

// Unmark clears the emitted marker so the next replay re-sends the
// subscribe frame. Used when a write fails.
func (r *Registry) Unmark(channelID string, epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.channels[channelID]; ok && last == epoch {
		r.channels[channelID] = 0
	}
}
