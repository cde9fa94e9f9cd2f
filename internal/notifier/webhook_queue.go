package notifier

import (
	"slices"
	"sync"

	"github.com/potooio/cdcwatch/internal/types"
)

// enqueueResult is what happened to a payload offered to an alertQueue.
type enqueueResult int

const (
	enqueued enqueueResult = iota
	// coalesced: an undelivered payload for the same alert was replaced.
	coalesced
	// evictedLower: a lower-severity payload was dropped to make room.
	evictedLower
	// rejected: the queue is full of payloads at least as severe.
	rejected
)

// alertQueue is a bounded delivery queue ordered by severity, then arrival.
// It holds at most one payload per alert ID: the dedup keys are stable per
// fact, so a second payload for a queued alert only carries a newer status.
type alertQueue struct {
	capacity int

	mu      sync.Mutex
	items   []AlertPayload
	pending map[string]struct{}

	// ready has capacity 1 and is signalled whenever items is non-empty.
	ready chan struct{}
}

func newAlertQueue(capacity int) *alertQueue {
	return &alertQueue{
		capacity: capacity,
		items:    make([]AlertPayload, 0, capacity),
		pending:  make(map[string]struct{}, capacity),
		ready:    make(chan struct{}, 1),
	}
}

func payloadRank(p AlertPayload) int {
	return types.Severity(p.Severity).Rank()
}

// push offers p to the queue. When it returns evictedLower, dropped is the
// payload that made room.
func (q *alertQueue) push(p AlertPayload) (res enqueueResult, dropped AlertPayload) {
	q.mu.Lock()
	defer q.signal()
	defer q.mu.Unlock()

	if _, ok := q.pending[p.AlertID]; ok {
		i := slices.IndexFunc(q.items, func(it AlertPayload) bool { return it.AlertID == p.AlertID })
		if payloadRank(p) == payloadRank(q.items[i]) {
			q.items[i] = p
		} else {
			q.items = slices.Delete(q.items, i, i+1)
			q.insertLocked(p)
		}
		return coalesced, AlertPayload{}
	}

	if len(q.items) >= q.capacity {
		last := q.items[len(q.items)-1]
		if payloadRank(last) >= payloadRank(p) {
			return rejected, AlertPayload{}
		}
		q.items = q.items[:len(q.items)-1]
		delete(q.pending, last.AlertID)
		res, dropped = evictedLower, last
	}
	q.insertLocked(p)
	q.pending[p.AlertID] = struct{}{}
	return res, dropped
}

// insertLocked places p after every queued payload of equal or higher rank.
func (q *alertQueue) insertLocked(p AlertPayload) {
	rank := payloadRank(p)
	i := slices.IndexFunc(q.items, func(it AlertPayload) bool { return payloadRank(it) < rank })
	if i < 0 {
		i = len(q.items)
	}
	q.items = slices.Insert(q.items, i, p)
}

// pop removes the most severe, oldest payload.
func (q *alertQueue) pop() (AlertPayload, bool) {
	q.mu.Lock()
	defer q.signal()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return AlertPayload{}, false
	}
	p := q.items[0]
	q.items = slices.Delete(q.items, 0, 1)
	delete(q.pending, p.AlertID)
	return p, true
}

// signal wakes one worker if work remains. Must be called without q.mu held.
func (q *alertQueue) signal() {
	q.mu.Lock()
	n := len(q.items)
	q.mu.Unlock()
	if n == 0 {
		return
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *alertQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
