package push

import (
	"context"
	"sync"

	"orderwatch/internal/orders"
)

// Feed is an in-process Source. Publish delivers synchronously to every
// active subscription on the caller's goroutine. It backs the "none"
// transport and tests.
type Feed struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
	conn *Connectivity
}

// NewFeed creates a feed that reports itself connected
func NewFeed() *Feed {
	f := &Feed{
		subs: make(map[*Subscription]struct{}),
		conn: NewConnectivity(),
	}
	f.conn.Set(true)
	return f
}

// Subscribe registers h until the subscription is cancelled or ctx is done
func (f *Feed) Subscribe(ctx context.Context, h Handler) (*Subscription, error) {
	s, subCtx := newSubscription(ctx, h, f.conn)

	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-subCtx.Done()
		s.active.Store(false)
		f.mu.Lock()
		delete(f.subs, s)
		f.mu.Unlock()
		close(s.done)
	}()

	return s, nil
}

// Publish delivers evt to all active subscriptions and returns how many took it
func (f *Feed) Publish(evt orders.OrderEvent) int {
	f.mu.Lock()
	subs := make([]*Subscription, 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	delivered := 0
	for _, s := range subs {
		if s.Deliver(evt) {
			delivered++
		}
	}
	return delivered
}

// SetConnected simulates a link state change
func (f *Feed) SetConnected(connected bool) {
	f.conn.Set(connected)
}

// Subscribers returns the number of active subscriptions
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
