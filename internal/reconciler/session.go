package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"orderwatch/internal/metrics"
	"orderwatch/internal/notify"
	"orderwatch/internal/orders"
	"orderwatch/internal/push"
	"orderwatch/internal/registry"
	"orderwatch/internal/tracker"

	"github.com/sirupsen/logrus"
)

const defaultQueueSize = 256

// OrderAPI is the request/response side of the order-management backend
type OrderAPI interface {
	ListOrders(ctx context.Context) ([]orders.Order, error)
	CreateOrder(ctx context.Context, req orders.CreateOrderRequest) (orders.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status orders.Status) (orders.Order, error)
}

// Config wires a session to its collaborators
type Config struct {
	API     OrderAPI
	Source  push.Source // nil disables live updates
	Sink    notify.Sink // nil discards notifications
	Metrics *metrics.SessionMetrics
	Log     *logrus.Entry

	// RefreshAfterMutation re-fetches the snapshot after a successful
	// status change.
	RefreshAfterMutation bool
	QueueSize            int
}

// State is the snapshot-loading state shown next to the order list
type State struct {
	Loading     bool
	Err         error // last snapshot failure, cleared by the next success
	RefreshedAt time.Time
}

// Session owns one Registry and one Tracker and applies every change to
// them on a single goroutine, in the order the changes arrive.
type Session struct {
	api     OrderAPI
	source  push.Source
	sink    notify.Sink
	metrics *metrics.SessionMetrics
	log     *logrus.Entry

	refreshAfterMutation bool

	registry *registry.Registry
	tracker  *tracker.Tracker
	conn     *push.Connectivity

	cmdQueue chan func()
	submitMu sync.RWMutex
	stopped  bool
	wg       sync.WaitGroup

	closeOnce sync.Once
	closing   atomic.Bool

	// Loop-owned.
	generation uint64
	streaming  bool
	fetching   int

	stateMu sync.RWMutex
	state   State

	subMu     sync.Mutex
	sub       *push.Subscription
	watchQuit chan struct{}
	watchDone chan struct{}
}

// New creates a session and starts its event loop
func New(cfg Config) *Session {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	sink := cfg.Sink
	if sink == nil {
		sink = notify.SinkFunc(func(notify.Notification) {})
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Session{
		api:                  cfg.API,
		source:               cfg.Source,
		sink:                 sink,
		metrics:              cfg.Metrics,
		log:                  log,
		refreshAfterMutation: cfg.RefreshAfterMutation,
		registry:             registry.New(),
		tracker:              tracker.New(),
		conn:                 push.NewConnectivity(),
		cmdQueue:             make(chan func(), queueSize),
	}

	s.wg.Add(1)
	go s.eventLoop()
	return s
}

// Start subscribes to live updates and loads the first snapshot.
// Subscribing first means no event is missed while the fetch is in flight.
func (s *Session) Start(ctx context.Context) error {
	if err := s.Subscribe(ctx); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// Close unsubscribes, stops the event loop and waits for it.
// Every operation after Close returns ErrSessionClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.Unsubscribe()

		s.submitMu.Lock()
		s.stopped = true
		close(s.cmdQueue)
		s.submitMu.Unlock()

		s.wg.Wait()
	})
}

// Orders returns the registry in display order
func (s *Session) Orders() []orders.Order {
	return s.registry.List()
}

// Version changes whenever the order collection changes
func (s *Session) Version() uint64 {
	return s.registry.Version()
}

// Order returns one order by id
func (s *Session) Order(orderID string) (orders.Order, error) {
	o, ok := s.registry.Get(orderID)
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

// Actions returns the actions to offer for an order
func (s *Session) Actions(orderID string) (orders.ActionSet, error) {
	o, ok := s.registry.Get(orderID)
	if !ok {
		return orders.ActionSet{}, orders.ErrOrderNotFound
	}
	return orders.Actions(o, s.tracker.IsPending(orderID)), nil
}

// Pending returns the ids with a status change in flight
func (s *Session) Pending() []string {
	return s.tracker.Pending()
}

// PendingSince returns when the in-flight status change for orderID started
func (s *Session) PendingSince(orderID string) (time.Time, bool) {
	return s.tracker.Since(orderID)
}

// Subscribed reports whether a live subscription is still delivering events.
// It turns false after Unsubscribe or once the transport gives up.
func (s *Session) Subscribed() bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.sub != nil && s.sub.Active()
}

// State returns the snapshot-loading state
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Connected reports whether the push channel is connected
func (s *Session) Connected() bool {
	return s.conn.Connected()
}

// WatchConnectivity streams connectivity changes until stop is called
func (s *Session) WatchConnectivity() (<-chan bool, func()) {
	return s.conn.Watch()
}

// post queues fn on the event loop
func (s *Session) post(fn func()) error {
	s.submitMu.RLock()
	defer s.submitMu.RUnlock()
	if s.stopped {
		return orders.ErrSessionClosed
	}
	s.cmdQueue <- fn
	return nil
}

// do runs fn on the event loop and waits for it
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	if err := s.post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	<-done
	return nil
}

// eventLoop runs queued commands one at a time until the queue is closed
func (s *Session) eventLoop() {
	defer s.wg.Done()

	for cmd := range s.cmdQueue {
		if cmd == nil {
			continue
		}
		cmd()
	}
}

func (s *Session) notify(level notify.Level, orderID, message string) {
	s.sink.Notify(notify.Notification{
		Level:   level,
		Message: message,
		OrderID: orderID,
		At:      time.Now(),
	})
}

func (s *Session) updateState(fn func(*State)) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	fn(&s.state)
}
