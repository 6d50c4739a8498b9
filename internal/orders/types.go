package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// The order API exchanges money as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// EventType tags an OrderEvent
type EventType string

const (
	EventOrderCreated   EventType = "ORDER_CREATED"
	EventOrderUpdated   EventType = "ORDER_UPDATED"
	EventOrderCancelled EventType = "ORDER_CANCELLED"
)

// OrderItem is one line of an order
type OrderItem struct {
	ProductID   string          `json:"productId" validate:"required"`
	ProductName string          `json:"productName" validate:"required"`
	Quantity    int             `json:"quantity" validate:"gt=0"`
	Price       decimal.Decimal `json:"price"`
}

// Subtotal returns quantity * price
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is an immutable snapshot of one order as the backend last reported it.
// Every change produces a new Order value; stored values are never mutated.
type Order struct {
	ID            string          `json:"_id,omitempty"` // Storage ID assigned by the backend
	OrderID       string          `json:"orderId"`
	CustomerName  string          `json:"customerName"`
	CustomerEmail string          `json:"customerEmail"`
	Items         []OrderItem     `json:"items"`
	TotalAmount   decimal.Decimal `json:"totalAmount"` // Server-declared total, trusted as-is
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Clone returns a copy that shares no mutable state with o
func (o Order) Clone() Order {
	cp := o
	if o.Items != nil {
		cp.Items = append([]OrderItem(nil), o.Items...)
	}
	return cp
}

// OrderEvent is a full-snapshot change notification pushed by the backend.
// There are no partial or delta events.
type OrderEvent struct {
	EventType EventType `json:"eventType"`
	OrderID   string    `json:"orderId"`
	Order     Order     `json:"order"`
	Timestamp time.Time `json:"timestamp"`
}

// CreateOrderRequest is the body of an order creation request
type CreateOrderRequest struct {
	CustomerName  string          `json:"customerName" validate:"required"`
	CustomerEmail string          `json:"customerEmail" validate:"required"`
	Items         []OrderItem     `json:"items" validate:"required,min=1,dive"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
}

// NewCreateOrderRequest builds a request whose total is computed from the items
func NewCreateOrderRequest(customerName, customerEmail string, items []OrderItem) CreateOrderRequest {
	return CreateOrderRequest{
		CustomerName:  customerName,
		CustomerEmail: customerEmail,
		Items:         append([]OrderItem(nil), items...),
		TotalAmount:   Total(items),
	}
}

// Total sums quantity * price over items
func Total(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}
