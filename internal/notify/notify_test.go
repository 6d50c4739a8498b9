package notify

import (
	"testing"

	"orderwatch/internal/orders"
)

func TestEventMessage(t *testing.T) {
	tests := []struct {
		evt      orders.OrderEvent
		expected string
	}{
		{
			orders.OrderEvent{EventType: orders.EventOrderCreated, OrderID: "A"},
			"New order created: A",
		},
		{
			orders.OrderEvent{EventType: orders.EventOrderUpdated, OrderID: "A", Order: orders.Order{Status: orders.StatusShipped}},
			"Order A updated to SHIPPED",
		},
		{
			orders.OrderEvent{EventType: orders.EventOrderCancelled, OrderID: "A"},
			"Order A cancelled",
		},
		{
			orders.OrderEvent{EventType: "ORDER_ARCHIVED", OrderID: "A"},
			"Order updated",
		},
	}

	for _, tt := range tests {
		if got := EventMessage(tt.evt); got != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, got)
		}
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()
	a, stopA := hub.Subscribe(1)
	b, stopB := hub.Subscribe(1)
	defer stopB()

	hub.Notify(Notification{Level: LevelInfo, Message: "one"})

	if n := <-a; n.Message != "one" {
		t.Errorf("expected one, got %q", n.Message)
	}
	if n := <-b; n.Message != "one" {
		t.Errorf("expected one, got %q", n.Message)
	}

	stopA()
	stopA()
	if _, ok := <-a; ok {
		t.Error("expected channel closed after stop")
	}
	if hub.Subscribers() != 1 {
		t.Errorf("expected 1 subscriber, got %d", hub.Subscribers())
	}
}

func TestHub_FullSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	ch, stop := hub.Subscribe(1)
	defer stop()

	hub.Notify(Notification{Message: "first"})
	hub.Notify(Notification{Message: "second"})

	if n := <-ch; n.Message != "first" {
		t.Errorf("expected first, got %q", n.Message)
	}
	select {
	case n := <-ch:
		t.Errorf("expected overflow to be dropped, got %q", n.Message)
	default:
	}
}

func TestMulti(t *testing.T) {
	var got []string
	sink := Multi{
		SinkFunc(func(n Notification) { got = append(got, "a:"+n.Message) }),
		SinkFunc(func(n Notification) { got = append(got, "b:"+n.Message) }),
	}

	sink.Notify(Notification{Message: "x"})

	if len(got) != 2 || got[0] != "a:x" || got[1] != "b:x" {
		t.Errorf("expected [a:x b:x], got %v", got)
	}
}
