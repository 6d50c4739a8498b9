package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"orderwatch/internal/logging"
	"orderwatch/internal/notify"
	"orderwatch/internal/orders"

	"github.com/sirupsen/logrus"
)

// User-facing notification texts
const (
	msgConnected        = "Connected to real-time updates"
	msgDisconnected     = "Disconnected from real-time updates"
	msgFetchFailed      = "Failed to fetch orders"
	msgCreated          = "Order created successfully!"
	msgCreateFailed     = "Failed to create order"
	msgCustomerInvalid  = "Please fill in customer details"
	msgItemsInvalid     = "Please fill in all item details with valid values"
	msgStatusUpdated    = "Order status updated to %s"
	msgStatusFailed     = "Failed to update order status"
	opCreateOrder       = "create_order"
	opUpdateOrderStatus = "update_status"
)

// Refresh fetches the full snapshot and replaces the registry with it.
// On failure the registry is left as it was and the error is kept in State.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.do(func() {
		s.fetching++
		s.updateState(func(st *State) { st.Loading = true })
	}); err != nil {
		return err
	}

	list, fetchErr := s.api.ListOrders(ctx)

	if err := s.do(func() { s.settleRefresh(list, fetchErr) }); err != nil {
		return err
	}
	if fetchErr != nil {
		return fmt.Errorf("refresh orders: %w", fetchErr)
	}
	return nil
}

func (s *Session) settleRefresh(list []orders.Order, err error) {
	s.fetching--
	loading := s.fetching > 0

	if err != nil {
		s.updateState(func(st *State) {
			st.Loading = loading
			st.Err = err
		})
		s.metrics.SnapshotFetched(false, s.registry.Len())
		s.log.WithError(err).WithField("action", logging.ActionSnapshotFailed).Warn("order snapshot fetch failed, keeping current orders")
		s.notify(notify.LevelError, "", msgFetchFailed)
		return
	}

	s.registry.Seed(list)
	s.updateState(func(st *State) {
		st.Loading = loading
		st.Err = nil
		st.RefreshedAt = time.Now()
	})
	s.metrics.SnapshotFetched(true, s.registry.Len())
	s.log.WithFields(logrus.Fields{
		"action": logging.ActionSnapshotApplied,
		"orders": s.registry.Len(),
	}).Info("order snapshot applied")
}

// CreateOrder validates req, submits it and merges the stored order.
// An invalid request is never sent.
func (s *Session) CreateOrder(ctx context.Context, req orders.CreateOrderRequest) (orders.Order, error) {
	if err := req.Validate(); err != nil {
		s.notify(notify.LevelError, "", validationMessage(err))
		return orders.Order{}, err
	}
	if err := s.ensureOpen(); err != nil {
		return orders.Order{}, err
	}

	created, err := s.api.CreateOrder(ctx, req)
	if err != nil {
		s.metrics.MutationSettled(opCreateOrder, false, s.tracker.Size())
		s.log.WithError(err).WithField("action", logging.ActionOrderCreateFailed).Warn("order creation failed")
		s.notify(notify.LevelError, "", msgCreateFailed)
		return orders.Order{}, err
	}

	if err := s.do(func() {
		s.registry.Upsert(created)
		s.metrics.MutationSettled(opCreateOrder, true, s.tracker.Size())
		s.log.WithFields(logrus.Fields{
			"action":   logging.ActionOrderCreated,
			"order_id": created.OrderID,
		}).Info("order created")
		s.notify(notify.LevelSuccess, created.OrderID, msgCreated)
	}); err != nil {
		return orders.Order{}, err
	}
	return created, nil
}

// UpdateStatus requests a status change. A second request for the same
// order while one is in flight fails with ErrMutationPending. The target
// status is not checked locally; the backend decides.
func (s *Session) UpdateStatus(ctx context.Context, orderID string, status orders.Status) (orders.Order, error) {
	var began bool
	if err := s.do(func() {
		began = s.tracker.Begin(orderID)
		if began {
			s.metrics.MutationStarted(s.tracker.Size())
		}
	}); err != nil {
		return orders.Order{}, err
	}
	if !began {
		s.log.WithFields(logrus.Fields{
			"action":   logging.ActionMutationRejected,
			"order_id": orderID,
		}).Debug("status change already in flight")
		return orders.Order{}, fmt.Errorf("update order %s: %w", orderID, orders.ErrMutationPending)
	}

	updated, reqErr := s.api.UpdateOrderStatus(ctx, orderID, status)

	if err := s.do(func() { s.settleStatus(orderID, status, updated, reqErr) }); err != nil {
		// The loop is gone; still release the order.
		s.tracker.End(orderID)
		return orders.Order{}, err
	}
	if reqErr != nil {
		return orders.Order{}, reqErr
	}

	if s.refreshAfterMutation {
		// A refresh failure is reported through State and a notification.
		_ = s.Refresh(ctx)
	}
	return updated, nil
}

func (s *Session) settleStatus(orderID string, status orders.Status, updated orders.Order, err error) {
	s.tracker.End(orderID)

	if err != nil {
		s.metrics.MutationSettled(opUpdateOrderStatus, false, s.tracker.Size())
		s.log.WithError(err).WithFields(logrus.Fields{
			"action":   logging.ActionStatusUpdateFailed,
			"order_id": orderID,
			"status":   status,
		}).Warn("status update failed")
		s.notify(notify.LevelError, orderID, msgStatusFailed)
		return
	}

	s.registry.Upsert(updated)
	s.metrics.MutationSettled(opUpdateOrderStatus, true, s.tracker.Size())
	s.log.WithFields(logrus.Fields{
		"action":   logging.ActionStatusUpdated,
		"order_id": orderID,
		"status":   updated.Status,
	}).Info("status updated")
	s.notify(notify.LevelSuccess, orderID, fmt.Sprintf(msgStatusUpdated, status))
}

// Advance moves an order to its next status in the fulfilment chain
func (s *Session) Advance(ctx context.Context, orderID string) (orders.Order, error) {
	o, ok := s.registry.Get(orderID)
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	next, ok := orders.NextStatus(o.Status)
	if !ok {
		return orders.Order{}, fmt.Errorf("advance order %s from %s: %w", orderID, o.Status, orders.ErrNoTransition)
	}
	return s.UpdateStatus(ctx, orderID, next)
}

// Cancel cancels an order unless it is already delivered or cancelled
func (s *Session) Cancel(ctx context.Context, orderID string) (orders.Order, error) {
	o, ok := s.registry.Get(orderID)
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	if !orders.IsCancellable(o.Status) {
		return orders.Order{}, fmt.Errorf("cancel order %s in %s: %w", orderID, o.Status, orders.ErrNoTransition)
	}
	return s.UpdateStatus(ctx, orderID, orders.StatusCancelled)
}

func (s *Session) ensureOpen() error {
	s.submitMu.RLock()
	defer s.submitMu.RUnlock()
	if s.stopped {
		return orders.ErrSessionClosed
	}
	return nil
}

func validationMessage(err error) string {
	var verr *orders.ValidationError
	if errors.As(err, &verr) {
		for _, f := range verr.Fields {
			if strings.HasPrefix(f.Field, "customer") {
				return msgCustomerInvalid
			}
		}
	}
	return msgItemsInvalid
}
