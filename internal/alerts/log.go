package alerts

import (
	"sync"

	"github.com/potooio/cdcwatch/internal/ringbuf"
	"github.com/potooio/cdcwatch/internal/types"
)

// DefaultCapacity is the default number of alerts retained.
const DefaultCapacity = 1000

// entry is an alert plus its read marker. read is set by MarkAllAsRead and
// cleared whenever the alert transitions back to unresolved.
type entry struct {
	alert types.Alert
	read  bool
}

func (e entry) countsUnread() bool {
	return e.alert.IsUnresolved() && !e.read
}

// Log is the bounded, newest-first alert log and the source of truth for
// alert status. It maintains the unread counter incrementally on every
// insert, status change, removal and eviction.
type Log struct {
	mu     sync.RWMutex
	buf    *ringbuf.Buffer[entry]
	ids    map[string]struct{}
	unread int
}

// NewLog creates a Log holding at most capacity alerts (DefaultCapacity if <= 0).
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		buf: ringbuf.New[entry](capacity),
		ids: make(map[string]struct{}, capacity),
	}
}

// Add inserts a at the head of the log unless an alert with the same ID is
// already present. An empty status defaults to unresolved. Returns true if a
// was inserted.
func (l *Log) Add(a types.Alert) bool {
	if a.ID == "" {
		return false
	}
	if a.Status == "" {
		a.Status = types.AlertStatusUnresolved
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.ids[a.ID]; exists {
		return false
	}
	e := entry{alert: a}
	old, evicted := l.buf.PushFront(e)
	if evicted {
		delete(l.ids, old.alert.ID)
		if old.countsUnread() {
			l.decUnreadLocked()
		}
	}
	l.ids[a.ID] = struct{}{}
	if e.countsUnread() {
		l.unread++
	}
	setGauges(l.buf.Len(), l.unread)
	return true
}

// Has reports whether an alert with the given ID is in the log.
func (l *Log) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]
	return ok
}

// Get returns the alert with the given ID.
func (l *Log) Get(id string) (types.Alert, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i := l.indexLocked(id)
	if i < 0 {
		return types.Alert{}, false
	}
	return l.buf.At(i).alert, true
}

// UpdateStatus changes the status of an alert. Leaving unresolved decrements
// the unread counter if the alert was counted; returning to unresolved marks
// the alert unread again and increments it. Returns false if the alert does
// not exist or the status is invalid.
func (l *Log) UpdateStatus(id string, status types.AlertStatus) bool {
	if !status.Valid() {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexLocked(id)
	if i < 0 {
		return false
	}
	e := l.buf.At(i)
	wasCounted := e.countsUnread()
	wasUnresolved := e.alert.IsUnresolved()

	e.alert.Status = status
	if !wasUnresolved && status == types.AlertStatusUnresolved {
		e.read = false
	}
	l.buf.Set(i, e)

	switch {
	case wasCounted && !e.countsUnread():
		l.decUnreadLocked()
	case !wasCounted && e.countsUnread():
		l.unread++
	}
	setGauges(l.buf.Len(), l.unread)
	return true
}

// MarkAllAsRead zeroes the unread counter without changing any alert status.
func (l *Log) MarkAllAsRead() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i < l.buf.Len(); i++ {
		e := l.buf.At(i)
		if !e.read {
			e.read = true
			l.buf.Set(i, e)
		}
	}
	l.unread = 0
	setGauges(l.buf.Len(), l.unread)
}

// Remove deletes an alert, decrementing the unread counter if it was counted.
func (l *Log) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexLocked(id)
	if i < 0 {
		return false
	}
	removed := l.buf.RemoveAt(i)
	delete(l.ids, id)
	if removed.countsUnread() {
		l.decUnreadLocked()
	}
	setGauges(l.buf.Len(), l.unread)
	return true
}

// Clear removes every alert.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Clear()
	clear(l.ids)
	l.unread = 0
	setGauges(0, 0)
}

// Snapshot returns a newest-first copy of all alerts.
func (l *Log) Snapshot() []types.Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Alert, 0, l.buf.Len())
	l.buf.Each(func(_ int, e entry) bool {
		out = append(out, e.alert)
		return true
	})
	return out
}

// UnreadCount returns the incrementally maintained unread counter.
func (l *Log) UnreadCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.unread
}

// UnreadWhere counts unread alerts for which keep returns true. keep is
// called with the log's read lock held and must not call back into the log.
func (l *Log) UnreadWhere(keep func(types.Alert) bool) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	l.buf.Each(func(_ int, e entry) bool {
		if e.countsUnread() && keep(e.alert) {
			n++
		}
		return true
	})
	return n
}

// Recount recomputes the unread count from the stored alerts without
// touching the maintained counter. Equal to UnreadCount whenever the
// incremental bookkeeping is correct.
func (l *Log) Recount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	l.buf.Each(func(_ int, e entry) bool {
		if e.countsUnread() {
			n++
		}
		return true
	})
	return n
}

// Len returns the number of alerts in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.buf.Len()
}

func (l *Log) indexLocked(id string) int {
	if _, ok := l.ids[id]; !ok {
		return -1
	}
	return l.buf.Index(func(e entry) bool { return e.alert.ID == id })
}

func (l *Log) decUnreadLocked() {
	if l.unread > 0 {
		l.unread--
	}
}
