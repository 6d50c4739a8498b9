package reconciler

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"orderwatch/internal/logging"
	"orderwatch/internal/metrics"
	"orderwatch/internal/notify"
	"orderwatch/internal/orders"
	"orderwatch/internal/push"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

type fakeAPI struct {
	mu        sync.Mutex
	list      []orders.Order
	listErr   error
	listCalls int
	creates   int
	updates   []orders.Status

	listFn   func(ctx context.Context) ([]orders.Order, error)
	createFn func(orders.CreateOrderRequest) (orders.Order, error)
	updateFn func(ctx context.Context, id string, status orders.Status) (orders.Order, error)
}

func (f *fakeAPI) ListOrders(ctx context.Context) ([]orders.Order, error) {
	f.mu.Lock()
	f.listCalls++
	fn := f.listFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]orders.Order(nil), f.list...), nil
}

func (f *fakeAPI) CreateOrder(ctx context.Context, req orders.CreateOrderRequest) (orders.Order, error) {
	f.mu.Lock()
	f.creates++
	fn := f.createFn
	f.mu.Unlock()
	return fn(req)
}

func (f *fakeAPI) UpdateOrderStatus(ctx context.Context, id string, status orders.Status) (orders.Order, error) {
	f.mu.Lock()
	f.updates = append(f.updates, status)
	fn := f.updateFn
	f.mu.Unlock()
	if fn == nil {
		return orders.Order{OrderID: id, Status: status}, nil
	}
	return fn(ctx, id, status)
}

func (f *fakeAPI) setList(list ...orders.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = list
	f.listErr = nil
}

func (f *fakeAPI) failList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

type recordingSink struct {
	mu   sync.Mutex
	seen []notify.Notification
}

func (r *recordingSink) Notify(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
}

func (r *recordingSink) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.seen))
	for _, n := range r.seen {
		out = append(out, n.Message)
	}
	return out
}

func (r *recordingSink) has(msg string) bool {
	for _, m := range r.messages() {
		if m == msg {
			return true
		}
	}
	return false
}

func order(id string, status orders.Status) orders.Order {
	return orders.Order{
		OrderID:       id,
		CustomerName:  "customer-" + id,
		CustomerEmail: id + "@example.com",
		Items: []orders.OrderItem{
			{ProductID: "p-1", ProductName: "Widget", Quantity: 2, Price: decimal.NewFromInt(5)},
		},
		TotalAmount: decimal.NewFromInt(10),
		Status:      status,
	}
}

func event(typ orders.EventType, o orders.Order) orders.OrderEvent {
	return orders.OrderEvent{EventType: typ, OrderID: o.OrderID, Order: o, Timestamp: time.Now()}
}

func ids(list []orders.Order) []string {
	out := make([]string, 0, len(list))
	for _, o := range list {
		out = append(out, o.OrderID)
	}
	return out
}

type harness struct {
	session *Session
	api     *fakeAPI
	feed    *push.Feed
	sink    *recordingSink
}

func newHarness(t *testing.T, refresh bool) *harness {
	t.Helper()
	h := &harness{
		api:  &fakeAPI{},
		feed: push.NewFeed(),
		sink: &recordingSink{},
	}
	h.session = New(Config{
		API:                  h.api,
		Source:               h.feed,
		Sink:                 h.sink,
		Log:                  logging.Discard(),
		RefreshAfterMutation: refresh,
	})
	t.Cleanup(h.session.Close)
	return h
}

// sync waits until everything queued so far has been applied
func (h *harness) sync(t *testing.T) {
	t.Helper()
	if err := h.session.do(func() {}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
}

func (h *harness) publish(t *testing.T, evt orders.OrderEvent) {
	t.Helper()
	h.feed.Publish(evt)
	h.sync(t)
}

func TestSession_PushedUpdateReplacesInPlace(t *testing.T) {
	h := newHarness(t, false)
	h.api.setList(order("A", orders.StatusPending))
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	h.publish(t, event(orders.EventOrderUpdated, order("A", orders.StatusProcessing)))

	list := h.session.Orders()
	if len(list) != 1 {
		t.Fatalf("expected 1 order, got %d", len(list))
	}
	if list[0].OrderID != "A" || list[0].Status != orders.StatusProcessing {
		t.Errorf("expected A PROCESSING at index 0, got %s %s", list[0].OrderID, list[0].Status)
	}
	if !h.sink.has("Order A updated to PROCESSING") {
		t.Errorf("expected update notification, got %v", h.sink.messages())
	}
}

func TestSession_PushedCreateGoesToFront(t *testing.T) {
	h := newHarness(t, false)
	h.api.setList(order("A", orders.StatusPending), order("B", orders.StatusPending))
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	h.publish(t, event(orders.EventOrderCreated, order("C", orders.StatusPending)))

	if got := ids(h.session.Orders()); !reflect.DeepEqual(got, []string{"C", "A", "B"}) {
		t.Errorf("expected [C A B], got %v", got)
	}
	if !h.sink.has("New order created: C") {
		t.Errorf("expected created notification, got %v", h.sink.messages())
	}
}

func TestSession_SnapshotFailureKeepsOrders(t *testing.T) {
	h := newHarness(t, false)
	h.api.setList(order("A", orders.StatusPending), order("B", orders.StatusPending))
	if err := h.session.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	h.api.failList(&orders.TransportError{Op: "list orders", Err: errors.New("connection refused")})
	err := h.session.Refresh(context.Background())
	if !errors.Is(err, orders.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}

	if got := ids(h.session.Orders()); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("expected [A B] to survive, got %v", got)
	}
	state := h.session.State()
	if state.Err == nil {
		t.Error("expected error in state")
	}
	if state.Loading {
		t.Error("expected loading to be cleared")
	}
	if !h.sink.has(msgFetchFailed) {
		t.Errorf("expected fetch failure notification, got %v", h.sink.messages())
	}

	h.api.setList(order("A", orders.StatusPending))
	if err := h.session.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if h.session.State().Err != nil {
		t.Error("expected successful refresh to clear the error")
	}
}

func TestSession_SameEventTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t, false)
	h.api.setList(order("A", orders.StatusPending), order("B", orders.StatusPending))
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	evt := event(orders.EventOrderCreated, order("C", orders.StatusPending))
	h.publish(t, evt)
	once := h.session.Orders()
	h.publish(t, evt)

	if !reflect.DeepEqual(once, h.session.Orders()) {
		t.Errorf("expected identical registry, got %v then %v", ids(once), ids(h.session.Orders()))
	}
}

func TestSession_CreatedOrderThenPushedCreateIsIdempotent(t *testing.T) {
	h := newHarness(t, false)
	h.api.setList(order("A", orders.StatusPending))
	h.api.createFn = func(req orders.CreateOrderRequest) (orders.Order, error) {
		o := order("C", orders.StatusPending)
		o.CustomerName = req.CustomerName
		return o, nil
	}
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	req := orders.NewCreateOrderRequest("Carol", "carol@example.com", []orders.OrderItem{
		{ProductID: "p-1", ProductName: "Widget", Quantity: 1, Price: decimal.NewFromInt(3)},
	})
	created, err := h.session.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if created.CustomerName != "Carol" {
		t.Errorf("expected Carol, got %s", created.CustomerName)
	}

	h.publish(t, event(orders.EventOrderCreated, created))

	if got := ids(h.session.Orders()); !reflect.DeepEqual(got, []string{"C", "A"}) {
		t.Errorf("expected [C A], got %v", got)
	}
	if !h.sink.has(msgCreated) {
		t.Errorf("expected created notification, got %v", h.sink.messages())
	}
}

func TestSession_InvalidCreateIsNeverSent(t *testing.T) {
	h := newHarness(t, false)
	h.api.createFn = func(orders.CreateOrderRequest) (orders.Order, error) {
		t.Error("request must not be sent")
		return orders.Order{}, nil
	}

	tests := []struct {
		name string
		req  orders.CreateOrderRequest
		msg  string
	}{
		{
			name: "missing customer",
			req: orders.NewCreateOrderRequest("", "x@example.com", []orders.OrderItem{
				{ProductID: "p", ProductName: "P", Quantity: 1, Price: decimal.NewFromInt(1)},
			}),
			msg: msgCustomerInvalid,
		},
		{
			name: "zero price",
			req: orders.NewCreateOrderRequest("Ann", "ann@example.com", []orders.OrderItem{
				{ProductID: "p", ProductName: "P", Quantity: 1, Price: decimal.Zero},
			}),
			msg: msgItemsInvalid,
		},
		{
			name: "no items",
			req:  orders.NewCreateOrderRequest("Ann", "ann@example.com", nil),
			msg:  msgItemsInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.session.CreateOrder(context.Background(), tt.req)
			if !errors.Is(err, orders.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			msgs := h.sink.messages()
			if len(msgs) == 0 || msgs[len(msgs)-1] != tt.msg {
				t.Errorf("expected %q, got %v", tt.msg, msgs)
			}
		})
	}

	if h.api.creates != 0 {
		t.Errorf("expected no create requests, got %d", h.api.creates)
	}
}

func TestSession_CreateFailureLeavesRegistry(t *testing.T) {
	h := newHarness(t, false)
	h.api.setList(order("A", orders.StatusPending))
	h.api.createFn = func(orders.CreateOrderRequest) (orders.Order, error) {
		return orders.Order{}, &orders.ServerRejection{Op: "create order", StatusCode: 400, Message: "nope"}
	}
	if err := h.session.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	req := orders.NewCreateOrderRequest("Ann", "ann@example.com", []orders.OrderItem{
		{ProductID: "p", ProductName: "P", Quantity: 1, Price: decimal.NewFromInt(1)},
	})
	if _, err := h.session.CreateOrder(context.Background(), req); !errors.Is(err, orders.ErrServerRejected) {
		t.Fatalf("expected server rejection, got %v", err)
	}
	if got := ids(h.session.Orders()); !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("expected [A], got %v", got)
	}
	if !h.sink.has(msgCreateFailed) {
		t.Errorf("expected failure notification, got %v", h.sink.messages())
	}
}

func TestSession_SecondStatusChangeWhilePendingIsRejected(t *testing.T) {
	h := newHarness(t, false)
	h.api.setList(order("A", orders.StatusPending))
	if err := h.session.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	h.api.updateFn = func(ctx context.Context, id string, status orders.Status) (orders.Order, error) {
		close(started)
		<-release
		return order(id, status), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.session.UpdateStatus(context.Background(), "A", orders.StatusProcessing)
		done <- err
	}()
	<-started

	if _, err := h.session.UpdateStatus(context.Background(), "A", orders.StatusCancelled); !errors.Is(err, orders.ErrMutationPending) {
		t.Errorf("expected ErrMutationPending, got %v", err)
	}
	actions, err := h.session.Actions("A")
	if err != nil {
		t.Fatalf("Actions failed: %v", err)
	}
	if !actions.Busy {
		t.Error("expected order to be busy")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	if len(h.session.Pending()) != 0 {
		t.Errorf("expected no pending mutations, got %v", h.session.Pending())
	}
	if len(h.api.updates) != 1 {
		t.Errorf("expected one request sent, got %d", len(h.api.updates))
	}
	o, _ := h.session.Order("A")
	if o.Status != orders.StatusProcessing {
		t.Errorf("expected PROCESSING, got %s", o.Status)
	}
	if !h.sink.has("Order status updated to PROCESSING") {
		t.Errorf("expected status notification, got %v", h.sink.messages())
	}
}

func TestSession_FailedStatusChangeStaysRetryable(t *testing.T) {
	h := newHarness(t, true)
	h.api.setList(order("A", orders.StatusPending))
	if err := h.session.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	h.api.updateFn = func(ctx context.Context, id string, status orders.Status) (orders.Order, error) {
		return orders.Order{}, &orders.ServerRejection{Op: "update order status", StatusCode: 409, Message: "illegal transition"}
	}

	if _, err := h.session.UpdateStatus(context.Background(), "A", orders.StatusDelivered); !errors.Is(err, orders.ErrServerRejected) {
		t.Fatalf("expected server rejection, got %v", err)
	}
	if len(h.session.Pending()) != 0 {
		t.Fatalf("expected tracker cleared, got %v", h.session.Pending())
	}
	o, _ := h.session.Order("A")
	if o.Status != orders.StatusPending {
		t.Errorf("expected registry unchanged, got %s", o.Status)
	}
	if h.api.listCalls != 1 {
		t.Errorf("expected no refresh after a failed mutation, got %d fetches", h.api.listCalls)
	}
	if !h.sink.has(msgStatusFailed) {
		t.Errorf("expected failure notification, got %v", h.sink.messages())
	}

	h.api.updateFn = nil
	if _, err := h.session.UpdateStatus(context.Background(), "A", orders.StatusProcessing); err != nil {
		t.Errorf("expected retry to be accepted, got %v", err)
	}
}

func TestSession_PushAppliedWhileMutationPending(t *testing.T) {
	h := newHarness(t, false)
	h.api.setList(order("A", orders.StatusPending))
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	h.api.updateFn = func(ctx context.Context, id string, status orders.Status) (orders.Order, error) {
		close(started)
		<-release
		return order(id, orders.StatusProcessing), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.session.Advance(context.Background(), "A")
		done <- err
	}()
	<-started

	h.publish(t, event(orders.EventOrderCancelled, order("A", orders.StatusCancelled)))

	o, _ := h.session.Order("A")
	if o.Status != orders.StatusCancelled {
		t.Errorf("expected pushed CANCELLED to apply under the pending mutation, got %s", o.Status)
	}
	if actions, _ := h.session.Actions("A"); !actions.Busy {
		t.Error("expected order to stay busy until the request settles")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	o, _ = h.session.Order("A")
	if o.Status != orders.StatusProcessing {
		t.Errorf("expected last applied PROCESSING, got %s", o.Status)
	}
	if actions, _ := h.session.Actions("A"); actions.Busy {
		t.Error("expected busy flag cleared")
	}
}

func TestSession_PushAppliedWhileSnapshotInFlight(t *testing.T) {
	h := newHarness(t, false)
	h.api.setList(order("A", orders.StatusPending))
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	started := make(chan struct{})
	release := make(chan []orders.Order)
	h.api.mu.Lock()
	h.api.listFn = func(ctx context.Context) ([]orders.Order, error) {
		close(started)
		return <-release, nil
	}
	h.api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- h.session.Refresh(context.Background()) }()
	<-started

	if !h.session.State().Loading {
		t.Error("expected loading while the snapshot is being fetched")
	}

	h.publish(t, event(orders.EventOrderUpdated, order("A", orders.StatusProcessing)))
	h.publish(t, event(orders.EventOrderCreated, order("C", orders.StatusPending)))

	if got := ids(h.session.Orders()); !reflect.DeepEqual(got, []string{"C", "A"}) {
		t.Errorf("expected pushed create applied during fetch, got %v", got)
	}
	if o, _ := h.session.Order("A"); o.Status != orders.StatusProcessing {
		t.Errorf("expected pushed PROCESSING applied during fetch, got %s", o.Status)
	}
	if !h.session.State().Loading {
		t.Error("expected loading until the snapshot settles")
	}

	release <- []orders.Order{order("A", orders.StatusShipped), order("B", orders.StatusPending)}
	if err := <-done; err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if got := ids(h.session.Orders()); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("expected snapshot to replace the list, got %v", got)
	}
	if o, _ := h.session.Order("A"); o.Status != orders.StatusShipped {
		t.Errorf("expected snapshot status SHIPPED, got %s", o.Status)
	}
	st := h.session.State()
	if st.Loading {
		t.Error("expected loading cleared after the snapshot settles")
	}
	if st.RefreshedAt.IsZero() {
		t.Error("expected refresh time recorded")
	}
}

func TestSession_RefreshAfterMutation(t *testing.T) {
	h := newHarness(t, true)
	h.api.setList(order("A", orders.StatusPending), order("B", orders.StatusPending))
	if err := h.session.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	h.api.setList(order("A", orders.StatusProcessing), order("B", orders.StatusShipped))
	if _, err := h.session.UpdateStatus(context.Background(), "A", orders.StatusProcessing); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	if h.api.listCalls != 2 {
		t.Errorf("expected a refresh after the mutation, got %d fetches", h.api.listCalls)
	}
	b, _ := h.session.Order("B")
	if b.Status != orders.StatusShipped {
		t.Errorf("expected refreshed B SHIPPED, got %s", b.Status)
	}
}

func TestSession_AdvanceAndCancel(t *testing.T) {
	h := newHarness(t, false)
	h.api.setList(
		order("P", orders.StatusPending),
		order("D", orders.StatusDelivered),
		order("X", orders.StatusCancelled),
	)
	if err := h.session.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	tests := []struct {
		name string
		op   func(context.Context, string) (orders.Order, error)
		id   string
		want error
	}{
		{"advance pending", h.session.Advance, "P", nil},
		{"advance delivered", h.session.Advance, "D", orders.ErrNoTransition},
		{"cancel cancelled", h.session.Cancel, "X", orders.ErrNoTransition},
		{"cancel delivered", h.session.Cancel, "D", orders.ErrNoTransition},
		{"advance unknown", h.session.Advance, "nope", orders.ErrOrderNotFound},
		{"cancel unknown", h.session.Cancel, "nope", orders.ErrOrderNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.op(context.Background(), tt.id)
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if !reflect.DeepEqual(h.api.updates, []orders.Status{orders.StatusProcessing}) {
		t.Errorf("expected only the PENDING->PROCESSING request, got %v", h.api.updates)
	}
	if _, err := h.session.Cancel(context.Background(), "P"); err != nil {
		t.Errorf("expected PROCESSING order to be cancellable, got %v", err)
	}
}

func TestSession_NoEventAppliedAfterUnsubscribe(t *testing.T) {
	h := newHarness(t, false)
	h.api.setList(order("A", orders.StatusPending))
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var oldGen uint64
	h.session.do(func() { oldGen = h.session.generation })

	h.session.Unsubscribe()

	if n := h.feed.Publish(event(orders.EventOrderUpdated, order("A", orders.StatusShipped))); n != 0 {
		t.Errorf("expected no delivery after unsubscribe, got %d", n)
	}
	// An event that was already queued from the old subscription.
	h.session.do(func() {
		h.session.applyPushed(oldGen, event(orders.EventOrderUpdated, order("A", orders.StatusShipped)))
	})

	o, _ := h.session.Order("A")
	if o.Status != orders.StatusPending {
		t.Errorf("expected A to stay PENDING, got %s", o.Status)
	}
	if h.session.Connected() {
		t.Error("expected disconnected after unsubscribe")
	}

	// A fresh subscription applies events again.
	if err := h.session.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	h.publish(t, event(orders.EventOrderUpdated, order("A", orders.StatusProcessing)))
	o, _ = h.session.Order("A")
	if o.Status != orders.StatusProcessing {
		t.Errorf("expected PROCESSING after resubscribe, got %s", o.Status)
	}
}

func TestSession_SubscribedTracksSubscription(t *testing.T) {
	h := newHarness(t, false)
	if h.session.Subscribed() {
		t.Error("expected not subscribed before Subscribe")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.session.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if !h.session.Subscribed() {
		t.Error("expected subscribed")
	}

	// The transport ending on its own is reported without an Unsubscribe.
	cancel()
	deadline := time.Now().Add(time.Second)
	for h.session.Subscribed() {
		if time.Now().After(deadline) {
			t.Fatal("expected subscription to go inactive once its context is done")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.session.Unsubscribe()
	if err := h.session.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if !h.session.Subscribed() {
		t.Error("expected subscribed after resubscribe")
	}
	h.session.Unsubscribe()
	if h.session.Subscribed() {
		t.Error("expected not subscribed after Unsubscribe")
	}
}

func TestSession_PendingSince(t *testing.T) {
	h := newHarness(t, false)
	h.api.setList(order("A", orders.StatusPending))
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	h.api.updateFn = func(ctx context.Context, id string, status orders.Status) (orders.Order, error) {
		close(started)
		<-release
		return order(id, status), nil
	}

	before := time.Now()
	done := make(chan error, 1)
	go func() {
		_, err := h.session.Advance(context.Background(), "A")
		done <- err
	}()
	<-started

	since, ok := h.session.PendingSince("A")
	if !ok {
		t.Fatal("expected A pending")
	}
	if since.Before(before) || since.After(time.Now()) {
		t.Errorf("expected start time within the request window, got %v", since)
	}
	if _, ok := h.session.PendingSince("B"); ok {
		t.Error("expected B not pending")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if _, ok := h.session.PendingSince("A"); ok {
		t.Error("expected A cleared after settling")
	}
}

func TestSession_ConnectivityFollowsTransport(t *testing.T) {
	h := newHarness(t, false)
	changes, stop := h.session.WatchConnectivity()
	defer stop()

	if err := h.session.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	expect := func(want bool) {
		t.Helper()
		select {
		case got := <-changes:
			if got != want {
				t.Fatalf("expected connected=%v, got %v", want, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for connected=%v", want)
		}
	}

	expect(true)
	h.feed.SetConnected(false)
	expect(false)
	h.feed.SetConnected(true)
	expect(true)

	if !h.session.Connected() {
		t.Error("expected Connected() to be true")
	}
	h.sync(t)
	msgs := h.sink.messages()
	want := []string{msgConnected, msgDisconnected, msgConnected}
	if !reflect.DeepEqual(msgs, want) {
		t.Errorf("expected %v, got %v", want, msgs)
	}
}

func TestSession_ApplyEventNormalizesIDs(t *testing.T) {
	h := newHarness(t, false)

	evt := orders.OrderEvent{EventType: orders.EventOrderCreated, Order: order("A", orders.StatusPending)}
	if err := h.session.ApplyEvent(evt); err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}
	if _, err := h.session.Order("A"); err != nil {
		t.Errorf("expected A applied, got %v", err)
	}

	bad := orders.OrderEvent{EventType: orders.EventOrderUpdated, OrderID: "B", Order: order("C", orders.StatusPending)}
	if err := h.session.ApplyEvent(bad); err == nil {
		t.Error("expected mismatched ids to be rejected")
	}
	if got := len(h.session.Orders()); got != 1 {
		t.Errorf("expected 1 order, got %d", got)
	}
}

func TestSession_Close(t *testing.T) {
	h := newHarness(t, false)
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	h.session.Close()
	h.session.Close()

	if h.feed.Subscribers() != 0 {
		t.Errorf("expected feed subscription released, got %d", h.feed.Subscribers())
	}
	if err := h.session.Refresh(context.Background()); !errors.Is(err, orders.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed from Refresh, got %v", err)
	}
	if err := h.session.Subscribe(context.Background()); !errors.Is(err, orders.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed from Subscribe, got %v", err)
	}
	if _, err := h.session.UpdateStatus(context.Background(), "A", orders.StatusProcessing); !errors.Is(err, orders.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed from UpdateStatus, got %v", err)
	}
}

func TestSession_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSessionMetrics(reg)
	api := &fakeAPI{}
	feed := push.NewFeed()
	s := New(Config{API: api, Source: feed, Metrics: m, Log: logging.Discard()})
	defer s.Close()

	api.setList(order("A", orders.StatusPending))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	feed.Publish(event(orders.EventOrderCreated, order("B", orders.StatusPending)))
	s.do(func() {})

	if got := testutil.ToFloat64(m.EventsApplied.WithLabelValues(string(orders.EventOrderCreated))); got != 1 {
		t.Errorf("expected 1 created event, got %v", got)
	}
	if got := testutil.ToFloat64(m.Snapshots.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected 1 snapshot, got %v", got)
	}
	if got := testutil.ToFloat64(m.Orders); got != 2 {
		t.Errorf("expected 2 orders, got %v", got)
	}
}
