package api

import (
	"net/http"
	"strconv"
	"time"

	"orderwatch/internal/metrics"
	"orderwatch/internal/notify"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Deps are the collaborators the HTTP surface is built on
type Deps struct {
	Orders   OrderService
	Webhook  WebhookSender
	Hub      *notify.Hub
	Gatherer prometheus.Gatherer
	Metrics  *metrics.ServerMetrics
	Log      *logrus.Entry
}

// Router sets up HTTP routes for the API
type Router struct {
	handler *Handler
	engine  *gin.Engine
}

// NewRouter creates a new API router
func NewRouter(deps Deps) *Router {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(deps.Log), instrument(deps.Metrics))

	router := &Router{
		handler: NewHandler(deps.Orders, deps.Webhook, deps.Hub, deps.Log),
		engine:  engine,
	}

	router.setupRoutes(deps.Gatherer)
	return router
}

// setupRoutes configures all HTTP routes
func (r *Router) setupRoutes(gatherer prometheus.Gatherer) {
	r.engine.GET("/health", r.handler.Health)
	if gatherer != nil {
		r.engine.GET("/metrics", gin.WrapH(metrics.Handler(gatherer)))
	}

	v1 := r.engine.Group("/v1")
	{
		v1.GET("/orders", r.handler.ListOrders)
		v1.POST("/orders", r.handler.CreateOrder)
		v1.POST("/orders/refresh", r.handler.Refresh)
		v1.GET("/orders/:id", r.handler.GetOrder)
		v1.PATCH("/orders/:id/status", r.handler.UpdateStatus)
		v1.POST("/orders/:id/advance", r.handler.Advance)
		v1.POST("/orders/:id/cancel", r.handler.Cancel)
		v1.POST("/webhook", r.handler.Webhook)
		v1.GET("/connection", r.handler.Connection)
		v1.GET("/notifications", r.handler.Notifications)
	}
}

// ServeHTTP implements http.Handler interface
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}

// Handler returns the underlying HTTP handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log == nil {
			return
		}
		entry := log.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}

func instrument(m *metrics.ServerMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.Requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Microseconds()) / 1000)
	}
}
