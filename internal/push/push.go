package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"orderwatch/internal/orders"

	"github.com/goccy/go-json"
)

// Handler receives pushed events in arrival order. Each call runs to
// completion before the next event is delivered.
type Handler func(orders.OrderEvent)

// Source is a persistent push channel of order events
type Source interface {
	// Subscribe starts delivering events to h until the subscription is
	// cancelled or ctx is done.
	Subscribe(ctx context.Context, h Handler) (*Subscription, error)
}

// Pump is a transport receive loop. It passes every decoded event to emit,
// reports link state through conn and returns once ctx is done.
// Reconnecting is the pump's own business.
type Pump func(ctx context.Context, emit func(orders.OrderEvent), conn *Connectivity) error

// Subscription is a cancellable, non-restartable stream of deliveries
type Subscription struct {
	handler Handler
	conn    *Connectivity

	active atomic.Bool
	// Held for the duration of a delivery so Unsubscribe can wait it out.
	deliverMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func newSubscription(parent context.Context, h Handler, conn *Connectivity) (*Subscription, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s := &Subscription{
		handler: h,
		conn:    conn,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.active.Store(true)
	return s, ctx
}

// Start runs pump on its own goroutine and returns the subscription feeding h
func Start(parent context.Context, pump Pump, h Handler) *Subscription {
	conn := NewConnectivity()
	s, ctx := newSubscription(parent, h, conn)

	go func() {
		defer close(s.done)
		defer conn.Set(false)
		emit := func(evt orders.OrderEvent) { s.Deliver(evt) }
		if err := pump(ctx, emit, conn); err != nil && !errors.Is(err, context.Canceled) {
			s.err = err
		}
	}()

	return s
}

// Deliver hands evt to the handler unless the subscription has been
// cancelled. It reports whether the event was delivered.
func (s *Subscription) Deliver(evt orders.OrderEvent) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if !s.active.Load() {
		return false
	}
	s.handler(evt)
	return true
}

// Active reports whether events are still being delivered. It is false
// after Unsubscribe and after the transport loop has exited.
func (s *Subscription) Active() bool {
	select {
	case <-s.done:
		return false
	default:
		return s.active.Load()
	}
}

// Unsubscribe stops delivery. When it returns no handler call is running
// and none will start. It must not be called from inside the handler.
func (s *Subscription) Unsubscribe() {
	if s.active.CompareAndSwap(true, false) {
		// wait out an in-progress delivery
		s.deliverMu.Lock()
		s.deliverMu.Unlock()
		s.cancel()
	}
	<-s.done
}

// Done is closed once the transport loop has exited
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the error the transport loop stopped with, if any
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Connected reports the current link state
func (s *Subscription) Connected() bool {
	return s.conn.Connected()
}

// Connectivity exposes the read-only link state observable
func (s *Subscription) Connectivity() *Connectivity {
	return s.conn
}

// DecodeEvent parses and normalizes one wire event. The order id is taken
// from whichever of event.orderId and order.orderId is set; both set and
// different is an error.
func DecodeEvent(data []byte) (orders.OrderEvent, error) {
	var evt orders.OrderEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return orders.OrderEvent{}, fmt.Errorf("decode order event: %w", err)
	}
	return Normalize(evt)
}

// Normalize reconciles the event-level and order-level ids
func Normalize(evt orders.OrderEvent) (orders.OrderEvent, error) {
	switch {
	case evt.OrderID == "" && evt.Order.OrderID == "":
		return orders.OrderEvent{}, errors.New("order event without order id")
	case evt.OrderID == "":
		evt.OrderID = evt.Order.OrderID
	case evt.Order.OrderID == "":
		evt.Order.OrderID = evt.OrderID
	case evt.OrderID != evt.Order.OrderID:
		return orders.OrderEvent{}, fmt.Errorf("order event id mismatch: event=%s order=%s", evt.OrderID, evt.Order.OrderID)
	}
	return evt, nil
}
