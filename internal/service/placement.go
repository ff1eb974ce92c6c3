package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/quickserve-pos/api/internal/database"
	"github.com/quickserve-pos/api/internal/enum"
	"github.com/quickserve-pos/api/internal/ws"
)

// Errors returned by the placement service.
var (
	ErrEmptyItems         = errors.New("items are required")
	ErrInvalidItemID      = errors.New("invalid item id")
	ErrInvalidQuantity    = errors.New("quantity must be > 0")
	ErrInvalidPrice       = errors.New("invalid price")
	ErrInvalidTotal       = errors.New("total_amount must be > 0")
	ErrMissingPaymentName = errors.New("payment name is required")
	ErrMissingPaymentUpi  = errors.New("payment upi_id is required")

	// ErrPaymentDeclined wraps any phase-2 outcome that is not a
	// successful charge: gateway decline, transport error, timeout.
	// Stock has already been restored when this is returned.
	ErrPaymentDeclined = errors.New("payment declined")
)

// InsufficientStockError identifies the first cart line that could not
// be reserved. The whole reservation is rolled back; no order row
// exists for the attempt.
type InsufficientStockError struct {
	Item string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q", e.Item)
}

// ItemUnavailableError identifies a cart line for an item staff has
// disabled, or one with no ledger row at this location. Kept separate
// from InsufficientStockError so the customer is not told "out of
// stock" for an item that was turned off.
type ItemUnavailableError struct {
	Item string
}

func (e *ItemUnavailableError) Error() string {
	return fmt.Sprintf("%q is currently unavailable", e.Item)
}

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PlacementStore defines the DB methods needed to place orders.
// Satisfied by *database.Store (pool-backed or tx-backed).
type PlacementStore interface {
	ReserveStock(ctx context.Context, locationID, itemID uuid.UUID, qty int32) (bool, error)
	RestoreStock(ctx context.Context, locationID, itemID uuid.UUID, qty int32) error
	GetInventoryRecord(ctx context.Context, locationID, itemID uuid.UUID) (database.InventoryRecord, error)
	NextOrderNumber(ctx context.Context, locationID uuid.UUID) (int32, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	FinalizeOrder(ctx context.Context, arg database.FinalizeOrderParams) (database.Order, error)
}

// NewPlacementStore creates a PlacementStore from a DBTX (pool or tx),
// so phase 1 runs the same queries inside its transaction.
type NewPlacementStore func(db database.DBTX) PlacementStore

// PlaceOrderRequest is the validated input for placing an order.
type PlaceOrderRequest struct {
	TenantID   uuid.UUID
	LocationID uuid.UUID
	Items      []PlaceOrderItem
	Total      string
	Payment    PaymentDetails
}

// PlaceOrderItem is one cart line as submitted by the terminal. Name
// and Price are part of the frozen snapshot, not re-read from the
// catalog.
type PlaceOrderItem struct {
	ItemID   string
	Name     string
	Quantity int32
	Price    string
}

// PlacementService orchestrates reservation, numbering, order creation
// and the payment step.
type PlacementService struct {
	pool     TxBeginner
	store    PlacementStore // pool-backed, for finalize/compensate outside the tx
	newStore NewPlacementStore
	payments PaymentProcessor
	events   ws.Publisher
}

func NewPlacementService(pool TxBeginner, store PlacementStore, newStore NewPlacementStore, payments PaymentProcessor, events ws.Publisher) *PlacementService {
	return &PlacementService{
		pool:     pool,
		store:    store,
		newStore: newStore,
		payments: payments,
		events:   events,
	}
}

// PlaceOrder runs the two-phase placement protocol.
//
// Phase 1 is a single transaction: reserve every line with the guarded
// decrement, allocate the order number, insert the Pending order with a
// frozen items snapshot. Any insufficient line aborts the whole unit
// with nothing reserved and no order row.
//
// Phase 2 invokes the payment step outside the transaction. Success
// finalizes the order as Completed and emits order:new to the
// location's room. Any failure (decline, error, timeout) restores the
// reserved stock, marks the order Failed, and returns the failed order
// together with ErrPaymentDeclined.
func (s *PlacementService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*database.Order, error) {
	items, total, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	order, err := s.placeOrderTx(ctx, req, items, total)
	if err != nil {
		return nil, err
	}

	// The reservation is committed; from here the order must always end
	// Completed or Failed, even if the caller went away.
	finalizeCtx := context.WithoutCancel(ctx)

	ref, payErr := s.payments.Charge(ctx, total, req.Payment)
	if payErr != nil {
		logrus.WithError(payErr).WithField("order_id", order.ID).Info("payment step failed, compensating")
		s.releaseStock(finalizeCtx, req.LocationID, order.Items)

		failed, err := s.finalize(finalizeCtx, database.FinalizeOrderParams{
			ID:            order.ID,
			PaymentStatus: enum.PaymentStatusFailed,
			OrderStatus:   enum.OrderStatusFailed,
		})
		if err != nil {
			return nil, fmt.Errorf("mark order failed: %w", err)
		}
		return &failed, fmt.Errorf("%w: %w", ErrPaymentDeclined, payErr)
	}

	completed, err := s.finalize(finalizeCtx, database.FinalizeOrderParams{
		ID:            order.ID,
		PaymentStatus: enum.PaymentStatusDone,
		OrderStatus:   enum.OrderStatusCompleted,
		PaymentRef:    pgtype.Text{String: ref, Valid: true},
	})
	if err != nil {
		return nil, fmt.Errorf("finalize order: %w", err)
	}

	if event, err := ws.NewEvent(ws.EventOrderCreated, ToOrderView(completed)); err == nil {
		s.events.Publish(completed.LocationID, event)
	} else {
		logrus.WithError(err).Error("encode order:new event")
	}

	return &completed, nil
}

func (s *PlacementService) validate(req PlaceOrderRequest) ([]database.OrderItem, decimal.Decimal, error) {
	if len(req.Items) == 0 {
		return nil, decimal.Zero, ErrEmptyItems
	}

	items := make([]database.OrderItem, len(req.Items))
	for i, line := range req.Items {
		itemID, err := uuid.Parse(line.ItemID)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("items[%d]: %w", i, ErrInvalidItemID)
		}
		if line.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("items[%d]: %w", i, ErrInvalidQuantity)
		}
		price, err := decimal.NewFromString(line.Price)
		if err != nil || price.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("items[%d]: %w", i, ErrInvalidPrice)
		}
		items[i] = database.OrderItem{
			ItemID:   itemID,
			Name:     line.Name,
			Quantity: line.Quantity,
			Price:    price.StringFixed(2),
		}
	}

	total, err := decimal.NewFromString(req.Total)
	if err != nil || !total.IsPositive() {
		return nil, decimal.Zero, ErrInvalidTotal
	}

	if req.Payment.Name == "" {
		return nil, decimal.Zero, ErrMissingPaymentName
	}
	if req.Payment.UpiID == "" {
		return nil, decimal.Zero, ErrMissingPaymentUpi
	}

	return items, total, nil
}

const (
	finalizeAttempts   = 3
	finalizeRetryDelay = 250 * time.Millisecond
)

// finalize writes the order's terminal status, retrying transient
// failures. After a successful charge the order must not stay Pending
// with its stock reserved, so a flaky write gets a bounded number of
// second chances before the error surfaces.
func (s *PlacementService) finalize(ctx context.Context, arg database.FinalizeOrderParams) (database.Order, error) {
	var lastErr error
	for attempt := 1; attempt <= finalizeAttempts; attempt++ {
		order, err := s.store.FinalizeOrder(ctx, arg)
		if err == nil {
			return order, nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			// Already finalized; retrying cannot help.
			return database.Order{}, err
		}
		lastErr = err
		logrus.WithError(err).WithFields(logrus.Fields{
			"order_id": arg.ID,
			"attempt":  attempt,
		}).Warn("finalize order")
		if attempt < finalizeAttempts {
			time.Sleep(finalizeRetryDelay * time.Duration(attempt))
		}
	}
	return database.Order{}, lastErr
}

// placeOrderTx is phase 1: the atomic reserve + allocate + create unit.
func (s *PlacementService) placeOrderTx(ctx context.Context, req PlaceOrderRequest, items []database.OrderItem, total decimal.Decimal) (*database.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	for _, it := range items {
		ok, err := store.ReserveStock(ctx, req.LocationID, it.ItemID, it.Quantity)
		if err != nil {
			return nil, fmt.Errorf("reserve %s: %w", it.Name, err)
		}
		if !ok {
			return nil, reserveFailure(ctx, store, req.LocationID, it)
		}
	}

	orderNo, err := store.NextOrderNumber(ctx, req.LocationID)
	if err != nil {
		return nil, fmt.Errorf("next order number: %w", err)
	}

	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		TenantID:     req.TenantID,
		LocationID:   req.LocationID,
		OrderNo:      orderNo,
		Items:        items,
		TotalAmount:  decimalToNumeric(total),
		PaymentName:  req.Payment.Name,
		PaymentUpiID: req.Payment.UpiID,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &order, nil
}

// reserveFailure tells a disabled or unknown item apart from one that
// is merely out of stock; the reservation guard refuses both the same
// way but the customer-facing messages differ.
func reserveFailure(ctx context.Context, store PlacementStore, locationID uuid.UUID, it database.OrderItem) error {
	rec, err := store.GetInventoryRecord(ctx, locationID, it.ItemID)
	if err != nil || !rec.Enabled {
		return &ItemUnavailableError{Item: it.Name}
	}
	return &InsufficientStockError{Item: it.Name}
}

// releaseStock is the compensating action. Failures are logged and
// swallowed: by this point the customer-facing outcome is "payment
// failed", and an order must never hang on a compensation error.
func (s *PlacementService) releaseStock(ctx context.Context, locationID uuid.UUID, items []database.OrderItem) {
	for _, it := range items {
		if err := s.store.RestoreStock(ctx, locationID, it.ItemID, it.Quantity); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"location_id": locationID,
				"item_id":     it.ItemID,
				"quantity":    it.Quantity,
			}).Error("restore stock after failed payment")
		}
	}
}
