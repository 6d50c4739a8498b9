package orders

import (
	"fmt"
	"strings"
)

// Status is the lifecycle status of an order
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// happy path: PENDING -> PROCESSING -> CONFIRMED -> SHIPPED -> DELIVERED
var nextStatus = map[Status]Status{
	StatusPending:    StatusProcessing,
	StatusProcessing: StatusConfirmed,
	StatusConfirmed:  StatusShipped,
	StatusShipped:    StatusDelivered,
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// ParseStatus parses a status name, case-insensitively
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return status, nil
}

// NextStatus returns the single next happy-path status.
// ok is false when current is terminal (or unknown).
func NextStatus(current Status) (next Status, ok bool) {
	next, ok = nextStatus[current]
	return next, ok
}

// IsCancellable reports whether a cancel action is offered for current
func IsCancellable(current Status) bool {
	return current != StatusDelivered && current != StatusCancelled
}

// ActionSet describes which status actions the UI offers for one order.
// The backend stays the authority on whether a transition is actually legal.
type ActionSet struct {
	OrderID     string `json:"orderId"`
	Next        Status `json:"next,omitempty"` // Empty when no advance action exists
	Cancellable bool   `json:"cancellable"`
	Busy        bool   `json:"busy"` // A user-initiated mutation is in flight
}

// Actions computes the action set for o
func Actions(o Order, busy bool) ActionSet {
	next, _ := NextStatus(o.Status)
	return ActionSet{
		OrderID:     o.OrderID,
		Next:        next,
		Cancellable: IsCancellable(o.Status),
		Busy:        busy,
	}
}
