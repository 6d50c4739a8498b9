package tracker

import (
	"sort"
	"sync"
	"time"
)

// Tracker records which orders have a user-initiated status change in flight.
// It only gates new submissions; it never suppresses server-pushed updates.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]time.Time // order_id -> when the request started
}

// New creates an empty tracker
func New() *Tracker {
	return &Tracker{
		pending: make(map[string]time.Time),
	}
}

// Begin marks orderID as pending. It returns false, changing nothing, if a
// request for orderID is already in flight. Check and set are atomic.
func (t *Tracker) Begin(orderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, busy := t.pending[orderID]; busy {
		return false
	}
	t.pending[orderID] = time.Now()
	return true
}

// End clears the pending mark. It must be called when the request settles,
// whatever the outcome, so a failure never locks out a retry.
func (t *Tracker) End(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, orderID)
}

// IsPending reports whether a request for orderID is in flight
func (t *Tracker) IsPending(orderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, busy := t.pending[orderID]
	return busy
}

// Since returns when the in-flight request for orderID started
func (t *Tracker) Since(orderID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	started, busy := t.pending[orderID]
	return started, busy
}

// Pending returns the ids with a request in flight, sorted
func (t *Tracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.pending))
	for id := range t.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Size returns the number of in-flight requests
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
