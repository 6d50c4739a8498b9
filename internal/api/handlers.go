package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"orderwatch/internal/logging"
	"orderwatch/internal/notify"
	"orderwatch/internal/orders"
	"orderwatch/internal/push"
	"orderwatch/internal/reconciler"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const notificationBuffer = 32

// OrderService is the session the HTTP surface drives
type OrderService interface {
	Orders() []orders.Order
	Version() uint64
	Order(orderID string) (orders.Order, error)
	Actions(orderID string) (orders.ActionSet, error)
	Pending() []string
	PendingSince(orderID string) (time.Time, bool)
	State() reconciler.State
	Connected() bool
	Subscribed() bool

	Refresh(ctx context.Context) error
	CreateOrder(ctx context.Context, req orders.CreateOrderRequest) (orders.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status orders.Status) (orders.Order, error)
	Advance(ctx context.Context, orderID string) (orders.Order, error)
	Cancel(ctx context.Context, orderID string) (orders.Order, error)
}

// WebhookSender forwards an event to the backend webhook
type WebhookSender interface {
	SendWebhook(ctx context.Context, evt orders.OrderEvent) error
}

// Handler handles HTTP requests for the order API
type Handler struct {
	orders  OrderService
	webhook WebhookSender
	hub     *notify.Hub
	log     *logrus.Entry
}

// NewHandler creates a new API handler
func NewHandler(svc OrderService, webhook WebhookSender, hub *notify.Hub, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{
		orders:  svc,
		webhook: webhook,
		hub:     hub,
		log:     log,
	}
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"connected": h.orders.Connected(),
	})
}

// ListOrders handles GET /v1/orders
func (h *Handler) ListOrders(c *gin.Context) {
	list := h.orders.Orders()
	pending := make(map[string]bool)
	for _, id := range h.orders.Pending() {
		pending[id] = true
	}

	resp := OrderListResponse{
		Orders:  make([]OrderView, 0, len(list)),
		Version: h.orders.Version(),
	}
	for _, o := range list {
		resp.Orders = append(resp.Orders, OrderView{
			Order:   o,
			Actions: orders.Actions(o, pending[o.OrderID]),
		})
	}

	state := h.orders.State()
	resp.Loading = state.Loading
	if state.Err != nil {
		resp.Error = state.Err.Error()
	}
	if !state.RefreshedAt.IsZero() {
		at := state.RefreshedAt
		resp.RefreshedAt = &at
	}

	c.JSON(http.StatusOK, resp)
}

// GetOrder handles GET /v1/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	id := c.Param("id")
	o, err := h.orders.Order(id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	actions, err := h.orders.Actions(id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, OrderView{Order: o, Actions: actions})
}

// CreateOrder handles POST /v1/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var body CreateOrderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeErrorResponse(c, http.StatusBadRequest, ErrorCodeInvalidArgument, "invalid request body")
		return
	}

	req := orders.NewCreateOrderRequest(body.CustomerName, body.CustomerEmail, body.Items)
	created, err := h.orders.CreateOrder(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// Refresh handles POST /v1/orders/refresh
func (h *Handler) Refresh(c *gin.Context) {
	if err := h.orders.Refresh(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	h.ListOrders(c)
}

// UpdateStatus handles PATCH /v1/orders/:id/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	var body UpdateStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeErrorResponse(c, http.StatusBadRequest, ErrorCodeInvalidArgument, "status is required")
		return
	}
	status, err := orders.ParseStatus(body.Status)
	if err != nil {
		writeErrorResponse(c, http.StatusBadRequest, ErrorCodeInvalidArgument, err.Error())
		return
	}

	updated, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Advance handles POST /v1/orders/:id/advance
func (h *Handler) Advance(c *gin.Context) {
	updated, err := h.orders.Advance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Cancel handles POST /v1/orders/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	updated, err := h.orders.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Webhook handles POST /v1/webhook by forwarding the event to the backend
func (h *Handler) Webhook(c *gin.Context) {
	if h.webhook == nil {
		writeErrorResponse(c, http.StatusNotImplemented, ErrorCodeInternalError, "webhook forwarding disabled")
		return
	}

	var evt orders.OrderEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		writeErrorResponse(c, http.StatusBadRequest, ErrorCodeInvalidArgument, "invalid event body")
		return
	}
	evt, err := push.Normalize(evt)
	if err != nil {
		writeErrorResponse(c, http.StatusBadRequest, ErrorCodeInvalidArgument, err.Error())
		return
	}

	if err := h.webhook.SendWebhook(c.Request.Context(), evt); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"forwarded": true, "orderId": evt.OrderID})
}

// Connection handles GET /v1/connection
func (h *Handler) Connection(c *gin.Context) {
	pending := make([]PendingMutation, 0)
	for _, id := range h.orders.Pending() {
		since, ok := h.orders.PendingSince(id)
		if !ok {
			// settled in between
			continue
		}
		pending = append(pending, PendingMutation{OrderID: id, Since: since})
	}
	c.JSON(http.StatusOK, ConnectionResponse{
		Connected:  h.orders.Connected(),
		Subscribed: h.orders.Subscribed(),
		Pending:    pending,
	})
}

// Notifications handles GET /v1/notifications as a server-sent event stream
func (h *Handler) Notifications(c *gin.Context) {
	if h.hub == nil {
		writeErrorResponse(c, http.StatusNotImplemented, ErrorCodeInternalError, "notifications disabled")
		return
	}

	ch, stop := h.hub.Subscribe(notificationBuffer)
	defer stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("connection", gin.H{"connected": h.orders.Connected()})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case n, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("notification", n)
			return true
		}
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	statusCode, errResp := MapErrorToHTTP(err)
	if statusCode >= http.StatusInternalServerError && !errors.Is(err, orders.ErrSessionClosed) {
		h.log.WithError(err).WithFields(logrus.Fields{
			"action": logging.ActionRequestFailed,
			"path":   c.FullPath(),
		}).Warn("request failed")
	}
	c.JSON(statusCode, errResp)
}

func writeErrorResponse(c *gin.Context, statusCode int, code ErrorCode, message string) {
	c.JSON(statusCode, ErrorResponse{Code: string(code), Message: message})
}
