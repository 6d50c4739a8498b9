package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"orderwatch/internal/orders"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Fallback messages used when the backend rejects without saying why
const (
	msgCreateFailed  = "Failed to create order"
	msgFetchFailed   = "Failed to fetch orders"
	msgFetchOne      = "Failed to fetch order"
	msgUpdateFailed  = "Failed to update order status"
	msgWebhookFailed = "Failed to send webhook"
)

// maxBodyBytes caps how much of a response is read
const maxBodyBytes = 8 << 20

// envelope is the backend response wrapper
type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data"`
	Message string `json:"message"`
}

// Client talks to the order-management backend. It never retries.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logrus.Entry
}

// New creates a client for the API rooted at baseURL
func New(baseURL string, timeout time.Duration, log *logrus.Entry) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// ListOrders fetches the full order snapshot
func (c *Client) ListOrders(ctx context.Context) ([]orders.Order, error) {
	list, err := call[[]orders.Order](ctx, c, "list orders", http.MethodGet, "/orders", nil, msgFetchFailed, true)
	if err != nil {
		return nil, err
	}
	return *list, nil
}

// GetOrder fetches one order
func (c *Client) GetOrder(ctx context.Context, orderID string) (orders.Order, error) {
	o, err := call[orders.Order](ctx, c, "get order", http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, msgFetchOne, true)
	if err != nil {
		return orders.Order{}, err
	}
	return *o, nil
}

// CreateOrder submits a new order and returns it as the backend stored it
func (c *Client) CreateOrder(ctx context.Context, req orders.CreateOrderRequest) (orders.Order, error) {
	o, err := call[orders.Order](ctx, c, "create order", http.MethodPost, "/orders", req, msgCreateFailed, true)
	if err != nil {
		return orders.Order{}, err
	}
	return *o, nil
}

// UpdateOrderStatus asks the backend to move an order to status
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID string, status orders.Status) (orders.Order, error) {
	body := struct {
		Status orders.Status `json:"status"`
	}{Status: status}

	o, err := call[orders.Order](ctx, c, "update order status", http.MethodPatch,
		"/orders/"+url.PathEscape(orderID)+"/status", body, msgUpdateFailed, true)
	if err != nil {
		return orders.Order{}, err
	}
	return *o, nil
}

// SendWebhook forwards an event to the backend webhook endpoint
func (c *Client) SendWebhook(ctx context.Context, evt orders.OrderEvent) error {
	_, err := call[json.RawMessage](ctx, c, "send webhook", http.MethodPost, "/orders/webhook", evt, msgWebhookFailed, false)
	return err
}

func call[T any](ctx context.Context, c *Client, op, method, path string, in any, fallback string, needData bool) (*T, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, &orders.TransportError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &orders.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"op":    op,
			"error": err,
		}).Warn("backend request failed")
		return nil, &orders.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &orders.TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	c.log.WithFields(logrus.Fields{
		"op":          op,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("backend request")

	var env envelope[T]
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fallback
		if decodeErr == nil && env.Message != "" {
			msg = env.Message
		}
		return nil, &orders.ServerRejection{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, &orders.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	if !env.Success || (needData && env.Data == nil) {
		msg := env.Message
		if msg == "" {
			msg = fallback
		}
		return nil, &orders.ServerRejection{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	return env.Data, nil
}
