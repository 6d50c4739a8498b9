package amqpstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"orderwatch/internal/logging"
	"orderwatch/internal/orders"
	"orderwatch/internal/push"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// DefaultExchange is the fanout exchange the backend publishes order events to
const DefaultExchange = "orders.events"

const (
	connectTimeout = 30 * time.Second
	heartbeat      = 10 * time.Second
)

// Config selects the broker and exchange carrying order events
type Config struct {
	URL      string
	Exchange string
}

// Stream is a push.Source consuming order events from a RabbitMQ fanout
// exchange. Each subscription binds its own exclusive queue, so every
// session sees every event.
type Stream struct {
	cfg  Config
	log  *logrus.Entry
	dial func(ctx context.Context, url string) (*amqp091.Connection, error)
}

// New creates a RabbitMQ-backed stream
func New(cfg Config, log *logrus.Entry) (*Stream, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp: url required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	return &Stream{
		cfg:  cfg,
		log:  log.WithField("transport", "amqp"),
		dial: dialContext,
	}, nil
}

// Subscribe starts consuming; reconnects with backoff until cancelled
func (s *Stream) Subscribe(ctx context.Context, h push.Handler) (*push.Subscription, error) {
	return push.Start(ctx, s.pump, h), nil
}

func (s *Stream) pump(ctx context.Context, emit func(orders.OrderEvent), conn *push.Connectivity) error {
	backoff := push.DefaultBackoff()
	for {
		err := s.consume(ctx, emit, conn, backoff)
		conn.Set(false)
		if ctx.Err() != nil {
			return nil
		}

		wait := backoff.Next()
		s.log.WithError(err).WithFields(logrus.Fields{
			"action":       logging.ActionStreamReconnecting,
			"next_attempt": wait.String(),
		}).Warn("order event stream lost")
		if !push.Sleep(ctx, wait) {
			return nil
		}
	}
}

// consume runs one connection lifetime. It returns when the connection
// closes or ctx is done.
func (s *Stream) consume(ctx context.Context, emit func(orders.OrderEvent), conn *push.Connectivity, backoff *push.Backoff) error {
	amqpConn, err := s.dial(ctx, s.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer amqpConn.Close()
	// Unblocks channel setup on a broker that stops answering.
	stop := context.AfterFunc(ctx, func() { amqpConn.Close() })
	defer stop()

	ch, err := amqpConn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(s.cfg.Exchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", s.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	closed := amqpConn.NotifyClose(make(chan *amqp091.Error, 1))
	backoff.Reset()
	conn.Set(true)
	s.log.WithFields(logrus.Fields{"action": logging.ActionSubscribed, "queue": q.Name}).Info("subscribed to order events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			s.handle(msg, emit)
		}
	}
}

func (s *Stream) handle(msg amqp091.Delivery, emit func(orders.OrderEvent)) {
	evt, err := push.DecodeEvent(msg.Body)
	if err != nil {
		s.log.WithError(err).WithField("action", logging.ActionMessageFailed).Warn("dropping undecodable order event")
		if err := msg.Nack(false, false); err != nil {
			s.log.WithError(err).WithField("action", logging.ActionAckFailed).Error("failed to nack order event")
		}
		return
	}

	emit(evt)

	if err := msg.Ack(false); err != nil {
		s.log.WithError(err).WithField("action", logging.ActionAckFailed).Error("failed to ack order event")
	}
}

// dialContext opens a connection that is torn down as soon as ctx is done,
// including mid-handshake.
func dialContext(ctx context.Context, url string) (*amqp091.Connection, error) {
	var (
		mu  sync.Mutex
		raw net.Conn
	)
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if raw != nil {
			raw.Close()
		}
	})
	defer stop()

	return amqp091.DialConfig(url, amqp091.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: connectTimeout}
			c, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// Cleared by amqp091 once the handshake completes.
			if err := c.SetDeadline(time.Now().Add(connectTimeout)); err != nil {
				c.Close()
				return nil, err
			}

			mu.Lock()
			defer mu.Unlock()
			if ctx.Err() != nil {
				c.Close()
				return nil, ctx.Err()
			}
			raw = c
			return c, nil
		},
	})
}
