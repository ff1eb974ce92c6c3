package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/quickserve-pos/api/internal/database"
	"github.com/quickserve-pos/api/internal/enum"
	"github.com/quickserve-pos/api/internal/ws"
)

// fakeOrderTable implements FulfillmentStore over an in-memory order
// map with the same conditional-update semantics as the real query.
type fakeOrderTable struct {
	mu     sync.Mutex
	orders map[uuid.UUID]database.Order
}

func newFakeOrderTable(orders ...database.Order) *fakeOrderTable {
	t := &fakeOrderTable{orders: make(map[uuid.UUID]database.Order)}
	for _, o := range orders {
		t.orders[o.ID] = o
	}
	return t
}

func (t *fakeOrderTable) GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	order, ok := t.orders[arg.ID]
	if !ok || order.LocationID != arg.LocationID {
		return database.Order{}, pgx.ErrNoRows
	}
	return order, nil
}

func (t *fakeOrderTable) AdvanceFulfillment(ctx context.Context, arg database.AdvanceFulfillmentParams) (database.Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	order, ok := t.orders[arg.ID]
	if !ok || order.LocationID != arg.LocationID ||
		order.OrderStatus != enum.OrderStatusCompleted ||
		order.FulfillmentStatus != arg.From {
		return database.Order{}, pgx.ErrNoRows
	}
	order.FulfillmentStatus = arg.To
	t.orders[arg.ID] = order
	return order, nil
}

func completedOrder(locationID uuid.UUID) database.Order {
	return database.Order{
		ID:                uuid.New(),
		LocationID:        locationID,
		OrderNo:           7,
		OrderStatus:       enum.OrderStatusCompleted,
		PaymentStatus:     enum.PaymentStatusDone,
		FulfillmentStatus: enum.FulfillmentCreated,
	}
}

func TestAdvanceWalksTheFullSequence(t *testing.T) {
	locationID := uuid.New()
	order := completedOrder(locationID)
	table := newFakeOrderTable(order)
	pub := &capturingPublisher{}
	svc := NewFulfillmentService(table, pub)

	want := []string{
		enum.FulfillmentReceived,
		enum.FulfillmentCooking,
		enum.FulfillmentPrepared,
		enum.FulfillmentServed,
	}
	for _, status := range want {
		updated, err := svc.Advance(context.Background(), order.ID, locationID)
		if err != nil {
			t.Fatalf("Advance to %s: %v", status, err)
		}
		if updated.FulfillmentStatus != status {
			t.Fatalf("status = %s, want %s", updated.FulfillmentStatus, status)
		}
	}

	// Served is terminal.
	if _, err := svc.Advance(context.Background(), order.ID, locationID); !errors.Is(err, ErrAlreadyFinal) {
		t.Errorf("err = %v, want ErrAlreadyFinal", err)
	}

	events := pub.byType(ws.EventOrderStatus)
	if len(events) != len(want) {
		t.Fatalf("order:status events = %d, want %d", len(events), len(want))
	}
	last, err := ws.DecodeStatusChanged(events[len(events)-1])
	if err != nil {
		t.Fatalf("decode last event: %v", err)
	}
	if last.OrderID != order.ID || last.FulfillmentStatus != enum.FulfillmentServed {
		t.Errorf("last patch = %+v, want %s for order %s", last, enum.FulfillmentServed, order.ID)
	}
	if last.OrderStatus != "" || last.PaymentStatus != "" {
		t.Errorf("patch carries unchanged fields: %+v", last)
	}
}

func TestAdvanceUnknownOrder(t *testing.T) {
	svc := NewFulfillmentService(newFakeOrderTable(), &capturingPublisher{})
	if _, err := svc.Advance(context.Background(), uuid.New(), uuid.New()); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestAdvanceHidesUnpaidOrders(t *testing.T) {
	locationID := uuid.New()
	order := completedOrder(locationID)
	order.OrderStatus = enum.OrderStatusPending
	svc := NewFulfillmentService(newFakeOrderTable(order), &capturingPublisher{})

	if _, err := svc.Advance(context.Background(), order.ID, locationID); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("err = %v, want ErrOrderNotFound for a non-completed order", err)
	}
}

func TestAdvanceWrongLocation(t *testing.T) {
	order := completedOrder(uuid.New())
	svc := NewFulfillmentService(newFakeOrderTable(order), &capturingPublisher{})

	if _, err := svc.Advance(context.Background(), order.ID, uuid.New()); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("err = %v, want ErrOrderNotFound for another location's order", err)
	}
}

func TestAdvanceConcurrentLoserGetsConflict(t *testing.T) {
	locationID := uuid.New()
	order := completedOrder(locationID)
	table := newFakeOrderTable(order)
	svc := NewFulfillmentService(table, &capturingPublisher{})

	// Simulate losing the race: another writer advanced the order after
	// our read.
	raced := &racingStore{inner: table, svc: svc, orderID: order.ID, locationID: locationID}
	racedSvc := NewFulfillmentService(raced, &capturingPublisher{})

	_, err := racedSvc.Advance(context.Background(), order.ID, locationID)
	if !errors.Is(err, ErrStatusConflict) {
		t.Errorf("err = %v, want ErrStatusConflict", err)
	}

	current, _ := table.GetOrder(context.Background(), database.GetOrderParams{ID: order.ID, LocationID: locationID})
	if current.FulfillmentStatus != enum.FulfillmentReceived {
		t.Errorf("status = %s, want exactly one step taken", current.FulfillmentStatus)
	}
}

// racingStore advances the order through svc between the read and the
// conditional write, making the caller's expected status stale.
type racingStore struct {
	inner      *fakeOrderTable
	svc        *FulfillmentService
	orderID    uuid.UUID
	locationID uuid.UUID
}

func (r *racingStore) GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error) {
	order, err := r.inner.GetOrder(ctx, arg)
	if err != nil {
		return database.Order{}, err
	}
	if _, err := r.svc.Advance(ctx, r.orderID, r.locationID); err != nil {
		return database.Order{}, err
	}
	return order, nil
}

func (r *racingStore) AdvanceFulfillment(ctx context.Context, arg database.AdvanceFulfillmentParams) (database.Order, error) {
	return r.inner.AdvanceFulfillment(ctx, arg)
}
