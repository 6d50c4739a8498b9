package notify

import (
	"fmt"
	"sync"
	"time"

	"orderwatch/internal/orders"

	"github.com/sirupsen/logrus"
)

// Level is the severity a notification is presented with
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Notification is one user-facing message
type Notification struct {
	Level   Level     `json:"type"`
	Message string    `json:"message"`
	OrderID string    `json:"orderId,omitempty"`
	At      time.Time `json:"at"`
}

// Sink presents notifications to the user
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Notification)

func (f SinkFunc) Notify(n Notification) { f(n) }

// Multi fans a notification out to several sinks
type Multi []Sink

func (m Multi) Notify(n Notification) {
	for _, s := range m {
		s.Notify(n)
	}
}

// EventMessage is the text shown for a pushed event. The event tag only
// changes the wording, never how the event is merged.
func EventMessage(evt orders.OrderEvent) string {
	switch evt.EventType {
	case orders.EventOrderCreated:
		return fmt.Sprintf("New order created: %s", evt.OrderID)
	case orders.EventOrderUpdated:
		return fmt.Sprintf("Order %s updated to %s", evt.OrderID, evt.Order.Status)
	case orders.EventOrderCancelled:
		return fmt.Sprintf("Order %s cancelled", evt.OrderID)
	default:
		return "Order updated"
	}
}

// LogSink writes notifications to a logger
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink creates a sink logging through log
func NewLogSink(log *logrus.Entry) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(n Notification) {
	entry := s.log.WithField("level_hint", string(n.Level))
	if n.OrderID != "" {
		entry = entry.WithField("order_id", n.OrderID)
	}
	if n.Level == LevelError {
		entry.Warn(n.Message)
		return
	}
	entry.Info(n.Message)
}

// Hub broadcasts notifications to live subscribers. A subscriber whose
// buffer is full misses the notification rather than stalling the sender.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Notification
	nextID int
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Notification)}
}

// Subscribe returns a channel of notifications and a func ending the
// subscription. The channel is closed when the subscription ends.
func (h *Hub) Subscribe(buffer int) (<-chan Notification, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Notification, buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *Hub) Notify(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Subscribers returns the number of live subscribers
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
