package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/quickserve-pos/api/internal/database"
	"github.com/quickserve-pos/api/internal/enum"
	"github.com/quickserve-pos/api/internal/ws"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrAlreadyFinal  = errors.New("order is already served")

	// ErrStatusConflict means a concurrent advance won the conditional
	// update. The caller should re-read and retry.
	ErrStatusConflict = errors.New("fulfillment status changed, please retry")
)

// FulfillmentStore defines the DB methods needed to advance orders.
type FulfillmentStore interface {
	GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
	AdvanceFulfillment(ctx context.Context, arg database.AdvanceFulfillmentParams) (database.Order, error)
}

// FulfillmentService is the single writer of fulfillment status. It
// moves an order exactly one step along the fixed sequence per call.
type FulfillmentService struct {
	store  FulfillmentStore
	events ws.Publisher
}

func NewFulfillmentService(store FulfillmentStore, events ws.Publisher) *FulfillmentService {
	return &FulfillmentService{store: store, events: events}
}

// Advance moves the order's kitchen status to the next value in the
// sequence. Only Completed orders are visible here; anything else is
// reported as not found. The write is guarded by the status read, so a
// concurrent advance loses with ErrStatusConflict instead of skipping
// a step.
func (s *FulfillmentService) Advance(ctx context.Context, orderID, locationID uuid.UUID) (*database.Order, error) {
	current, err := s.store.GetOrder(ctx, database.GetOrderParams{ID: orderID, LocationID: locationID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if current.OrderStatus != enum.OrderStatusCompleted {
		return nil, ErrOrderNotFound
	}
	if current.FulfillmentStatus == enum.FulfillmentServed {
		return nil, ErrAlreadyFinal
	}

	next := enum.NextFulfillment(current.FulfillmentStatus)
	if next == "" {
		return nil, ErrAlreadyFinal
	}

	updated, err := s.store.AdvanceFulfillment(ctx, database.AdvanceFulfillmentParams{
		ID:         orderID,
		LocationID: locationID,
		From:       current.FulfillmentStatus,
		To:         next,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("advance fulfillment: %w", err)
	}

	if event, err := ws.NewEvent(ws.EventOrderStatus, ws.StatusChangedPayload{
		OrderID:           updated.ID,
		OrderNo:           updated.OrderNo,
		FulfillmentStatus: updated.FulfillmentStatus,
	}); err == nil {
		s.events.Publish(updated.LocationID, event)
	} else {
		logrus.WithError(err).Error("encode order:status event")
	}

	return &updated, nil
}
