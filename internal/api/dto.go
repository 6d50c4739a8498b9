package api

import (
	"time"

	"orderwatch/internal/orders"
)

// OrderView is an order together with the actions the UI may offer for it
type OrderView struct {
	orders.Order
	Actions orders.ActionSet `json:"actions"`
}

// OrderListResponse is the response for listing orders
type OrderListResponse struct {
	Orders      []OrderView `json:"orders"`
	Version     uint64      `json:"version"` // Changes whenever the collection changes
	Loading     bool        `json:"loading"`
	Error       string      `json:"error,omitempty"` // Last snapshot failure, if any
	RefreshedAt *time.Time  `json:"refreshedAt,omitempty"`
}

// CreateOrderBody is the request body for creating an order.
// The total is computed from the items.
type CreateOrderBody struct {
	CustomerName  string             `json:"customerName"`
	CustomerEmail string             `json:"customerEmail"`
	Items         []orders.OrderItem `json:"items"`
}

// UpdateStatusBody is the request body for a status change
type UpdateStatusBody struct {
	Status string `json:"status" binding:"required"`
}

// ConnectionResponse reports the push channel state
type ConnectionResponse struct {
	Connected  bool              `json:"connected"`
	Subscribed bool              `json:"subscribed"`
	Pending    []PendingMutation `json:"pending"`
}

// PendingMutation is an order with a status change in flight
type PendingMutation struct {
	OrderID string    `json:"orderId"`
	Since   time.Time `json:"since"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  []orders.FieldError `json:"fields,omitempty"`
}
