package registry

import (
	"sync"

	"orderwatch/internal/orders"
)

// Registry is the in-memory order collection of one session, unique by
// order_id and displayed most recently created first.
//
// Updates replace a slot in place; unseen orders are prepended. Orders are
// stored and returned as clones, so a reader never observes a half-updated
// order and never shares state with the stored value.
type Registry struct {
	mu sync.RWMutex

	// Stored oldest first so that prepending is an append;
	// display index i lives at orders[len(orders)-1-i].
	orders []orders.Order

	// order_id -> position in orders
	index map[string]int

	// Incremented on every Seed and Upsert
	version uint64
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// Seed replaces the entire collection with list, given in display order.
// If list repeats an order_id, the first occurrence wins.
func (r *Registry) Seed(list []orders.Order) {
	seen := make(map[string]struct{}, len(list))
	kept := make([]orders.Order, 0, len(list))
	for _, o := range list {
		if _, dup := seen[o.OrderID]; dup {
			continue
		}
		seen[o.OrderID] = struct{}{}
		kept = append(kept, o.Clone())
	}

	stored := make([]orders.Order, 0, len(kept))
	index := make(map[string]int, len(kept))
	for i := len(kept) - 1; i >= 0; i-- {
		index[kept[i].OrderID] = len(stored)
		stored = append(stored, kept[i])
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.orders = stored
	r.index = index
	r.version++
}

// Upsert replaces the order with the same order_id at its current position,
// or prepends it if the id is unseen. It reports whether the order was new.
// Upsert is the single merge point for snapshot, push and request results.
func (r *Registry) Upsert(o orders.Order) (created bool) {
	cp := o.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.version++
	if pos, exists := r.index[cp.OrderID]; exists {
		r.orders[pos] = cp
		return false
	}

	r.index[cp.OrderID] = len(r.orders)
	r.orders = append(r.orders, cp)
	return true
}

// Get returns the order with the given id
func (r *Registry) Get(orderID string) (orders.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, exists := r.index[orderID]
	if !exists {
		return orders.Order{}, false
	}
	return r.orders[pos].Clone(), true
}

// IndexOf returns the display index of an order, or -1
func (r *Registry) IndexOf(orderID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, exists := r.index[orderID]
	if !exists {
		return -1
	}
	return len(r.orders) - 1 - pos
}

// List returns a consistent copy of all orders in display order
func (r *Registry) List() []orders.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]orders.Order, 0, len(r.orders))
	for i := len(r.orders) - 1; i >= 0; i-- {
		out = append(out, r.orders[i].Clone())
	}
	return out
}

// Len returns the number of orders
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}

// Version returns a counter that changes whenever the collection changes
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}
