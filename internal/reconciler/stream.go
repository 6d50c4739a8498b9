package reconciler

import (
	"context"
	"fmt"

	"orderwatch/internal/logging"
	"orderwatch/internal/notify"
	"orderwatch/internal/orders"
	"orderwatch/internal/push"

	"github.com/sirupsen/logrus"
)

// Subscribe opens the push channel. Events are applied in arrival order
// until Unsubscribe, Close or ctx is done. Subscribing twice is a no-op.
func (s *Session) Subscribe(ctx context.Context) error {
	if s.source == nil {
		return nil
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closing.Load() {
		return orders.ErrSessionClosed
	}
	if s.sub != nil {
		return nil
	}

	var gen uint64
	if err := s.do(func() {
		s.generation++
		s.streaming = true
		gen = s.generation
	}); err != nil {
		return err
	}

	sub, err := s.source.Subscribe(ctx, func(evt orders.OrderEvent) {
		// Blocks while the queue is full so events are never reordered or lost.
		if err := s.post(func() { s.applyPushed(gen, evt) }); err != nil {
			s.log.WithFields(logrus.Fields{
				"action":   logging.ActionEventDropped,
				"order_id": evt.OrderID,
			}).Debug("session closed, dropping order event")
		}
	})
	if err != nil {
		_ = s.do(func() { s.streaming = false })
		return fmt.Errorf("subscribe to order events: %w", err)
	}

	s.sub = sub
	s.watchQuit = make(chan struct{})
	s.watchDone = make(chan struct{})
	go s.watchLink(gen, sub, s.watchQuit, s.watchDone)

	s.log.WithField("action", logging.ActionSubscribed).Info("subscribed to live order updates")
	return nil
}

// Unsubscribe stops live updates. Once it returns no further pushed event
// is applied, including events already queued on the timeline.
func (s *Session) Unsubscribe() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.sub == nil {
		return
	}

	_ = s.do(func() {
		s.generation++
		s.streaming = false
	})

	close(s.watchQuit)
	<-s.watchDone
	s.sub.Unsubscribe()
	s.sub = nil

	if err := s.do(func() { s.setConnected(false) }); err != nil {
		s.conn.Set(false)
	}
	s.log.WithField("action", logging.ActionUnsubscribed).Info("unsubscribed from live order updates")
}

// ApplyEvent merges one event as if it had been pushed
func (s *Session) ApplyEvent(evt orders.OrderEvent) error {
	evt, err := push.Normalize(evt)
	if err != nil {
		return fmt.Errorf("apply event: %w", err)
	}
	return s.do(func() { s.applyEvent(evt) })
}

// watchLink mirrors the subscription's connectivity onto the session
func (s *Session) watchLink(gen uint64, sub *push.Subscription, quit, done chan struct{}) {
	defer close(done)

	changes, stop := sub.Connectivity().Watch()
	defer stop()

	// The link may already be up before the watch started.
	current := sub.Connected()
	if err := s.post(func() { s.linkChanged(gen, current) }); err != nil {
		return
	}

	for {
		select {
		case <-quit:
			return
		case connected := <-changes:
			if err := s.post(func() { s.linkChanged(gen, connected) }); err != nil {
				return
			}
		}
	}
}

func (s *Session) linkChanged(gen uint64, connected bool) {
	if gen != s.generation || !s.streaming {
		return
	}
	s.setConnected(connected)
}

func (s *Session) setConnected(connected bool) {
	if !s.conn.Set(connected) {
		return
	}
	s.metrics.SetConnected(connected)

	if connected {
		s.log.WithField("action", logging.ActionStreamConnected).Info("push channel connected")
		s.notify(notify.LevelSuccess, "", msgConnected)
		return
	}
	s.log.WithField("action", logging.ActionStreamDisconnected).Warn("push channel disconnected")
	s.notify(notify.LevelError, "", msgDisconnected)
}

func (s *Session) applyPushed(gen uint64, evt orders.OrderEvent) {
	if gen != s.generation || !s.streaming {
		s.log.WithFields(logrus.Fields{
			"action":   logging.ActionEventDropped,
			"order_id": evt.OrderID,
		}).Debug("dropping event from a cancelled subscription")
		return
	}
	s.applyEvent(evt)
}

// applyEvent upserts the event's order. The event type only picks the
// notification text.
func (s *Session) applyEvent(evt orders.OrderEvent) {
	created := s.registry.Upsert(evt.Order)
	s.metrics.EventApplied(string(evt.EventType), s.registry.Len())

	s.log.WithFields(logrus.Fields{
		"action":     logging.ActionEventApplied,
		"event_type": evt.EventType,
		"order_id":   evt.OrderID,
		"status":     evt.Order.Status,
		"created":    created,
	}).Debug("order event applied")

	s.notify(notify.LevelSuccess, evt.OrderID, notify.EventMessage(evt))
}
