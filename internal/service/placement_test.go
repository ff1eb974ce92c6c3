package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/quickserve-pos/api/internal/database"
	"github.com/quickserve-pos/api/internal/enum"
	"github.com/quickserve-pos/api/internal/ws"
)

// fakeInventory is the shared backing state for placement tests: stock
// levels, the order counter and the order table, all mutex-guarded so
// concurrent placements exercise the same races the database would.
type fakeInventory struct {
	mu       sync.Mutex
	stock    map[uuid.UUID]int32
	disabled map[uuid.UUID]bool
	counter  int32
	orders   map[uuid.UUID]database.Order
}

func newFakeInventory(stock map[uuid.UUID]int32) *fakeInventory {
	return &fakeInventory{
		stock:    stock,
		disabled: make(map[uuid.UUID]bool),
		orders:   make(map[uuid.UUID]database.Order),
	}
}

func (f *fakeInventory) reserve(itemID uuid.UUID, qty int32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disabled[itemID] || f.stock[itemID] < qty {
		return false
	}
	f.stock[itemID] -= qty
	return true
}

func (f *fakeInventory) restore(itemID uuid.UUID, qty int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stock[itemID] += qty
}

func (f *fakeInventory) quantity(itemID uuid.UUID) int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[itemID]
}

type reservation struct {
	itemID uuid.UUID
	qty    int32
}

// fakeTx emulates transaction semantics: reservations made through it
// are compensated on rollback unless committed. The embedded pgx.Tx is
// never called.
type fakeTx struct {
	pgx.Tx
	inv      *fakeInventory
	reserved []reservation
	done     bool
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.done = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	for _, r := range t.reserved {
		t.inv.restore(r.itemID, r.qty)
	}
	return nil
}

type fakePool struct {
	inv *fakeInventory
}

func (p *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{inv: p.inv}, nil
}

// fakeStore implements PlacementStore over fakeInventory. With tx set
// it records reservations for rollback; without, it acts pool-backed
// the way finalize and compensation do.
type fakeStore struct {
	inv *fakeInventory
	tx  *fakeTx
}

func (s *fakeStore) ReserveStock(ctx context.Context, locationID, itemID uuid.UUID, qty int32) (bool, error) {
	ok := s.inv.reserve(itemID, qty)
	if ok && s.tx != nil {
		s.tx.reserved = append(s.tx.reserved, reservation{itemID: itemID, qty: qty})
	}
	return ok, nil
}

func (s *fakeStore) RestoreStock(ctx context.Context, locationID, itemID uuid.UUID, qty int32) error {
	s.inv.restore(itemID, qty)
	return nil
}

func (s *fakeStore) NextOrderNumber(ctx context.Context, locationID uuid.UUID) (int32, error) {
	s.inv.mu.Lock()
	defer s.inv.mu.Unlock()
	s.inv.counter++
	return s.inv.counter, nil
}

func (s *fakeStore) CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
	order := database.Order{
		ID:                uuid.New(),
		TenantID:          arg.TenantID,
		LocationID:        arg.LocationID,
		OrderNo:           arg.OrderNo,
		Items:             arg.Items,
		TotalAmount:       arg.TotalAmount,
		PaymentStatus:     enum.PaymentStatusPending,
		OrderStatus:       enum.OrderStatusPending,
		FulfillmentStatus: enum.FulfillmentCreated,
	}
	s.inv.mu.Lock()
	s.inv.orders[order.ID] = order
	s.inv.mu.Unlock()
	return order, nil
}

func (s *fakeStore) GetInventoryRecord(ctx context.Context, locationID, itemID uuid.UUID) (database.InventoryRecord, error) {
	s.inv.mu.Lock()
	defer s.inv.mu.Unlock()
	qty, ok := s.inv.stock[itemID]
	if !ok {
		return database.InventoryRecord{}, pgx.ErrNoRows
	}
	return database.InventoryRecord{
		ItemID:     itemID,
		LocationID: locationID,
		Quantity:   qty,
		Enabled:    !s.inv.disabled[itemID],
	}, nil
}

func (s *fakeStore) FinalizeOrder(ctx context.Context, arg database.FinalizeOrderParams) (database.Order, error) {
	s.inv.mu.Lock()
	defer s.inv.mu.Unlock()
	order, ok := s.inv.orders[arg.ID]
	if !ok || order.OrderStatus != enum.OrderStatusPending {
		return database.Order{}, pgx.ErrNoRows
	}
	order.PaymentStatus = arg.PaymentStatus
	order.OrderStatus = arg.OrderStatus
	order.PaymentRef = arg.PaymentRef
	s.inv.orders[arg.ID] = order
	return order, nil
}

type fakeProcessor struct {
	charge func(ctx context.Context, amount decimal.Decimal, details PaymentDetails) (string, error)
}

func (p *fakeProcessor) Charge(ctx context.Context, amount decimal.Decimal, details PaymentDetails) (string, error) {
	return p.charge(ctx, amount, details)
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []ws.Event
}

func (p *capturingPublisher) Publish(locationID uuid.UUID, event ws.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturingPublisher) byType(eventType string) []ws.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []ws.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// flakyFinalizeStore fails FinalizeOrder a set number of times before
// delegating, standing in for a transient outage right after the
// charge settled.
type flakyFinalizeStore struct {
	*fakeStore
	mu       sync.Mutex
	failures int
	attempts int
}

func (s *flakyFinalizeStore) FinalizeOrder(ctx context.Context, arg database.FinalizeOrderParams) (database.Order, error) {
	s.mu.Lock()
	s.attempts++
	n := s.attempts
	s.mu.Unlock()
	if n <= s.failures {
		return database.Order{}, errors.New("connection reset by peer")
	}
	return s.fakeStore.FinalizeOrder(ctx, arg)
}

func (s *flakyFinalizeStore) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func newPlacementFixture(stock map[uuid.UUID]int32, charge func(ctx context.Context, amount decimal.Decimal, details PaymentDetails) (string, error)) (*PlacementService, *fakeInventory, *capturingPublisher) {
	inv := newFakeInventory(stock)
	pub := &capturingPublisher{}
	newStore := func(db database.DBTX) PlacementStore {
		return &fakeStore{inv: inv, tx: db.(*fakeTx)}
	}
	svc := NewPlacementService(
		&fakePool{inv: inv},
		&fakeStore{inv: inv},
		newStore,
		&fakeProcessor{charge: charge},
		pub,
	)
	return svc, inv, pub
}

// newFlakyFixture is newPlacementFixture with the pool-backed store's
// FinalizeOrder failing the first n calls.
func newFlakyFixture(stock map[uuid.UUID]int32, failures int, charge func(ctx context.Context, amount decimal.Decimal, details PaymentDetails) (string, error)) (*PlacementService, *fakeInventory, *flakyFinalizeStore, *capturingPublisher) {
	inv := newFakeInventory(stock)
	pub := &capturingPublisher{}
	flaky := &flakyFinalizeStore{fakeStore: &fakeStore{inv: inv}, failures: failures}
	newStore := func(db database.DBTX) PlacementStore {
		return &fakeStore{inv: inv, tx: db.(*fakeTx)}
	}
	svc := NewPlacementService(
		&fakePool{inv: inv},
		flaky,
		newStore,
		&fakeProcessor{charge: charge},
		pub,
	)
	return svc, inv, flaky, pub
}

func orderRequest(locationID uuid.UUID, items []PlaceOrderItem, total string) PlaceOrderRequest {
	return PlaceOrderRequest{
		TenantID:   uuid.New(),
		LocationID: locationID,
		Items:      items,
		Total:      total,
		Payment:    PaymentDetails{Name: "Asha", UpiID: "asha@upi"},
	}
}

func TestPlaceOrderSuccess(t *testing.T) {
	dosa := uuid.New()
	coffee := uuid.New()
	svc, inv, pub := newPlacementFixture(
		map[uuid.UUID]int32{dosa: 5, coffee: 10},
		func(ctx context.Context, amount decimal.Decimal, details PaymentDetails) (string, error) {
			return "pay_ref_1", nil
		},
	)

	locationID := uuid.New()
	order, err := svc.PlaceOrder(context.Background(), orderRequest(locationID, []PlaceOrderItem{
		{ItemID: dosa.String(), Name: "Masala Dosa", Quantity: 2, Price: "120.00"},
		{ItemID: coffee.String(), Name: "Filter Coffee", Quantity: 1, Price: "40.00"},
	}, "280.00"))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if order.OrderStatus != enum.OrderStatusCompleted {
		t.Errorf("order status = %s, want %s", order.OrderStatus, enum.OrderStatusCompleted)
	}
	if order.PaymentStatus != enum.PaymentStatusDone {
		t.Errorf("payment status = %s, want %s", order.PaymentStatus, enum.PaymentStatusDone)
	}
	if order.PaymentRef.String != "pay_ref_1" {
		t.Errorf("payment ref = %q, want pay_ref_1", order.PaymentRef.String)
	}
	if order.OrderNo != 1 {
		t.Errorf("order no = %d, want 1", order.OrderNo)
	}
	if got := inv.quantity(dosa); got != 3 {
		t.Errorf("dosa stock = %d, want 3", got)
	}
	if got := inv.quantity(coffee); got != 9 {
		t.Errorf("coffee stock = %d, want 9", got)
	}
	if events := pub.byType(ws.EventOrderCreated); len(events) != 1 {
		t.Errorf("order:new events = %d, want 1", len(events))
	}
}

func TestPlaceOrderFreezesItemSnapshot(t *testing.T) {
	dosa := uuid.New()
	svc, _, _ := newPlacementFixture(
		map[uuid.UUID]int32{dosa: 5},
		func(ctx context.Context, amount decimal.Decimal, details PaymentDetails) (string, error) {
			return "ref", nil
		},
	)

	order, err := svc.PlaceOrder(context.Background(), orderRequest(uuid.New(), []PlaceOrderItem{
		{ItemID: dosa.String(), Name: "Masala Dosa", Quantity: 2, Price: "115.5"},
	}, "231.00"))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if len(order.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(order.Items))
	}
	it := order.Items[0]
	if it.Name != "Masala Dosa" || it.Quantity != 2 || it.Price != "115.50" {
		t.Errorf("snapshot = %+v, want submitted name/qty and normalized price 115.50", it)
	}
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	dosa := uuid.New()
	paneer := uuid.New()
	charged := false
	svc, inv, pub := newPlacementFixture(
		map[uuid.UUID]int32{dosa: 5, paneer: 1},
		func(ctx context.Context, amount decimal.Decimal, details PaymentDetails) (string, error) {
			charged = true
			return "ref", nil
		},
	)

	_, err := svc.PlaceOrder(context.Background(), orderRequest(uuid.New(), []PlaceOrderItem{
		{ItemID: dosa.String(), Name: "Masala Dosa", Quantity: 2, Price: "120.00"},
		{ItemID: paneer.String(), Name: "Paneer Tikka", Quantity: 3, Price: "220.00"},
	}, "900.00"))

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("err = %v, want InsufficientStockError", err)
	}
	if stockErr.Item != "Paneer Tikka" {
		t.Errorf("insufficient item = %q, want Paneer Tikka", stockErr.Item)
	}

	// The whole reservation rolled back, including the line that fit.
	if got := inv.quantity(dosa); got != 5 {
		t.Errorf("dosa stock = %d, want 5", got)
	}
	if got := inv.quantity(paneer); got != 1 {
		t.Errorf("paneer stock = %d, want 1", got)
	}
	if charged {
		t.Error("payment step ran for an unplaced order")
	}
	if events := pub.byType(ws.EventOrderCreated); len(events) != 0 {
		t.Errorf("order:new events = %d, want 0", len(events))
	}
}

func TestPlaceOrderPaymentDeclined(t *testing.T) {
	dosa := uuid.New()
	svc, inv, pub := newPlacementFixture(
		map[uuid.UUID]int32{dosa: 5},
		func(ctx context.Context, amount decimal.Decimal, details PaymentDetails) (string, error) {
			return "", errors.New("card declined")
		},
	)

	order, err := svc.PlaceOrder(context.Background(), orderRequest(uuid.New(), []PlaceOrderItem{
		{ItemID: dosa.String(), Name: "Masala Dosa", Quantity: 2, Price: "120.00"},
	}, "240.00"))

	if !errors.Is(err, ErrPaymentDeclined) {
		t.Fatalf("err = %v, want ErrPaymentDeclined", err)
	}
	if order == nil {
		t.Fatal("want the failed order back for display")
	}
	if order.OrderStatus != enum.OrderStatusFailed {
		t.Errorf("order status = %s, want %s", order.OrderStatus, enum.OrderStatusFailed)
	}
	if order.PaymentStatus != enum.PaymentStatusFailed {
		t.Errorf("payment status = %s, want %s", order.PaymentStatus, enum.PaymentStatusFailed)
	}

	// Compensation put the reserved units back.
	if got := inv.quantity(dosa); got != 5 {
		t.Errorf("dosa stock = %d, want 5", got)
	}
	if events := pub.byType(ws.EventOrderCreated); len(events) != 0 {
		t.Errorf("order:new events = %d, want 0 for a failed order", len(events))
	}
}

func TestPlaceOrderDisabledItem(t *testing.T) {
	dosa := uuid.New()
	charged := false
	svc, inv, _ := newPlacementFixture(
		map[uuid.UUID]int32{dosa: 5},
		func(ctx context.Context, amount decimal.Decimal, details PaymentDetails) (string, error) {
			charged = true
			return "ref", nil
		},
	)
	inv.disabled[dosa] = true

	_, err := svc.PlaceOrder(context.Background(), orderRequest(uuid.New(), []PlaceOrderItem{
		{ItemID: dosa.String(), Name: "Masala Dosa", Quantity: 1, Price: "120.00"},
	}, "120.00"))

	var unavailable *ItemUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("err = %v, want ItemUnavailableError", err)
	}
	if unavailable.Item != "Masala Dosa" {
		t.Errorf("unavailable item = %q, want Masala Dosa", unavailable.Item)
	}
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		t.Error("disabled item reported as out of stock")
	}
	if got := inv.quantity(dosa); got != 5 {
		t.Errorf("dosa stock = %d, want 5", got)
	}
	if charged {
		t.Error("payment step ran for an unplaced order")
	}
}

func TestPlaceOrderUnknownItem(t *testing.T) {
	dosa := uuid.New()
	svc, _, _ := newPlacementFixture(
		map[uuid.UUID]int32{dosa: 5},
		func(ctx context.Context, amount decimal.Decimal, details PaymentDetails) (string, error) {
			return "ref", nil
		},
	)

	_, err := svc.PlaceOrder(context.Background(), orderRequest(uuid.New(), []PlaceOrderItem{
		{ItemID: uuid.New().String(), Name: "Ghost Roll", Quantity: 1, Price: "99.00"},
	}, "99.00"))

	var unavailable *ItemUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("err = %v, want ItemUnavailableError for an item with no ledger row", err)
	}
}

func TestPlaceOrderRetriesTransientFinalizeFailure(t *testing.T) {
	dosa := uuid.New()
	svc, inv, flaky, pub := newFlakyFixture(
		map[uuid.UUID]int32{dosa: 5},
		1,
		func(ctx context.Context, amount decimal.Decimal, details PaymentDetails) (string, error) {
			return "pay_ref_9", nil
		},
	)

	order, err := svc.PlaceOrder(context.Background(), orderRequest(uuid.New(), []PlaceOrderItem{
		{ItemID: dosa.String(), Name: "Masala Dosa", Quantity: 2, Price: "120.00"},
	}, "240.00"))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	// The charge settled, so one flaky write must not leave the order
	// Pending with its stock held.
	if order.OrderStatus != enum.OrderStatusCompleted {
		t.Errorf("order status = %s, want %s", order.OrderStatus, enum.OrderStatusCompleted)
	}
	if got := flaky.attemptCount(); got != 2 {
		t.Errorf("finalize attempts = %d, want 2", got)
	}
	if got := inv.quantity(dosa); got != 3 {
		t.Errorf("dosa stock = %d, want 3", got)
	}
	if events := pub.byType(ws.EventOrderCreated); len(events) != 1 {
		t.Errorf("order:new events = %d, want 1", len(events))
	}
}

func TestPlaceOrderRetriesFinalizeAfterDecline(t *testing.T) {
	dosa := uuid.New()
	svc, inv, flaky, _ := newFlakyFixture(
		map[uuid.UUID]int32{dosa: 5},
		1,
		func(ctx context.Context, amount decimal.Decimal, details PaymentDetails) (string, error) {
			return "", errors.New("card declined")
		},
	)

	order, err := svc.PlaceOrder(context.Background(), orderRequest(uuid.New(), []PlaceOrderItem{
		{ItemID: dosa.String(), Name: "Masala Dosa", Quantity: 2, Price: "120.00"},
	}, "240.00"))

	if !errors.Is(err, ErrPaymentDeclined) {
		t.Fatalf("err = %v, want ErrPaymentDeclined", err)
	}
	if order == nil || order.OrderStatus != enum.OrderStatusFailed {
		t.Fatalf("order = %+v, want the Failed order back", order)
	}
	if got := flaky.attemptCount(); got != 2 {
		t.Errorf("finalize attempts = %d, want 2", got)
	}
	if got := inv.quantity(dosa); got != 5 {
		t.Errorf("dosa stock = %d, want 5", got)
	}
}

func TestPlaceOrderConcurrentLastUnit(t *testing.T) {
	dosa := uuid.New()
	svc, inv, _ := newPlacementFixture(
		map[uuid.UUID]int32{dosa: 1},
		func(ctx context.Context, amount decimal.Decimal, details PaymentDetails) (string, error) {
			return "ref", nil
		},
	)

	locationID := uuid.New()
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := svc.PlaceOrder(context.Background(), orderRequest(locationID, []PlaceOrderItem{
				{ItemID: dosa.String(), Name: "Masala Dosa", Quantity: 1, Price: "120.00"},
			}, "120.00"))
			results <- err
		}()
	}

	var wins, losses int
	for i := 0; i < 2; i++ {
		err := <-results
		var stockErr *InsufficientStockError
		switch {
		case err == nil:
			wins++
		case errors.As(err, &stockErr):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if wins != 1 || losses != 1 {
		t.Errorf("wins = %d, losses = %d, want exactly one of each", wins, losses)
	}
	if got := inv.quantity(dosa); got != 0 {
		t.Errorf("dosa stock = %d, want 0", got)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	dosa := uuid.New()
	svc, _, _ := newPlacementFixture(
		map[uuid.UUID]int32{dosa: 5},
		func(ctx context.Context, amount decimal.Decimal, details PaymentDetails) (string, error) {
			t.Error("payment step must not run for invalid input")
			return "", nil
		},
	)

	line := PlaceOrderItem{ItemID: dosa.String(), Name: "Masala Dosa", Quantity: 1, Price: "120.00"}

	tests := []struct {
		name string
		req  PlaceOrderRequest
		want error
	}{
		{
			name: "empty items",
			req:  orderRequest(uuid.New(), nil, "120.00"),
			want: ErrEmptyItems,
		},
		{
			name: "bad item id",
			req: orderRequest(uuid.New(), []PlaceOrderItem{
				{ItemID: "not-a-uuid", Name: "Masala Dosa", Quantity: 1, Price: "120.00"},
			}, "120.00"),
			want: ErrInvalidItemID,
		},
		{
			name: "zero quantity",
			req: orderRequest(uuid.New(), []PlaceOrderItem{
				{ItemID: dosa.String(), Name: "Masala Dosa", Quantity: 0, Price: "120.00"},
			}, "120.00"),
			want: ErrInvalidQuantity,
		},
		{
			name: "negative price",
			req: orderRequest(uuid.New(), []PlaceOrderItem{
				{ItemID: dosa.String(), Name: "Masala Dosa", Quantity: 1, Price: "-1"},
			}, "120.00"),
			want: ErrInvalidPrice,
		},
		{
			name: "zero total",
			req:  orderRequest(uuid.New(), []PlaceOrderItem{line}, "0"),
			want: ErrInvalidTotal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.PlaceOrder(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("missing payment name", func(t *testing.T) {
		req := orderRequest(uuid.New(), []PlaceOrderItem{line}, "120.00")
		req.Payment.Name = ""
		if _, err := svc.PlaceOrder(context.Background(), req); !errors.Is(err, ErrMissingPaymentName) {
			t.Errorf("err = %v, want ErrMissingPaymentName", err)
		}
	})
	t.Run("missing payment upi", func(t *testing.T) {
		req := orderRequest(uuid.New(), []PlaceOrderItem{line}, "120.00")
		req.Payment.UpiID = ""
		if _, err := svc.PlaceOrder(context.Background(), req); !errors.Is(err, ErrMissingPaymentUpi) {
			t.Errorf("err = %v, want ErrMissingPaymentUpi", err)
		}
	})
}
