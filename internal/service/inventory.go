package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/quickserve-pos/api/internal/database"
	"github.com/quickserve-pos/api/internal/ws"
)

var (
	ErrNoFieldsToUpdate = errors.New("no fields to update")
	ErrNegativeQuantity = errors.New("quantity must be >= 0")
	ErrNegativePrice    = errors.New("price must be >= 0")
)

// LedgerStore defines the DB methods for staff-facing ledger edits.
type LedgerStore interface {
	SetInventoryPrice(ctx context.Context, locationID, itemID uuid.UUID, price pgtype.Numeric) (database.InventoryRecord, error)
	SetInventoryQuantity(ctx context.Context, locationID, itemID uuid.UUID, qty int32) (database.InventoryRecord, error)
	SetInventoryEnabled(ctx context.Context, locationID, itemID uuid.UUID, enabled bool) (database.InventoryRecord, error)
	ListInventory(ctx context.Context, locationID uuid.UUID) ([]database.InventoryView, error)
}

// InventoryUpdate carries the fields a staff edit provided. Nil means
// leave the field alone. A row created lazily by a quantity or enabled
// edit gets no price; readers fall back to the catalog default.
type InventoryUpdate struct {
	Price    *string
	Quantity *int32
	Enabled  *bool
}

// InventoryService applies staff edits to the ledger and pushes the
// resulting delta to the location's room so terminals can reconcile.
type InventoryService struct {
	store  LedgerStore
	events ws.Publisher
}

func NewInventoryService(store LedgerStore, events ws.Publisher) *InventoryService {
	return &InventoryService{store: store, events: events}
}

// Update applies only the provided fields, then publishes one
// inventory:delta carrying exactly what changed plus the resulting
// state.
func (s *InventoryService) Update(ctx context.Context, locationID, itemID uuid.UUID, upd InventoryUpdate) (*database.InventoryRecord, error) {
	if upd.Price == nil && upd.Quantity == nil && upd.Enabled == nil {
		return nil, ErrNoFieldsToUpdate
	}

	var rec database.InventoryRecord
	var err error

	if upd.Price != nil {
		price, perr := decimal.NewFromString(*upd.Price)
		if perr != nil || price.IsNegative() {
			return nil, ErrNegativePrice
		}
		rec, err = s.store.SetInventoryPrice(ctx, locationID, itemID, decimalToNumeric(price))
		if err != nil {
			return nil, fmt.Errorf("set price: %w", err)
		}
	}
	if upd.Quantity != nil {
		if *upd.Quantity < 0 {
			return nil, ErrNegativeQuantity
		}
		rec, err = s.store.SetInventoryQuantity(ctx, locationID, itemID, *upd.Quantity)
		if err != nil {
			return nil, fmt.Errorf("set quantity: %w", err)
		}
	}
	if upd.Enabled != nil {
		rec, err = s.store.SetInventoryEnabled(ctx, locationID, itemID, *upd.Enabled)
		if err != nil {
			return nil, fmt.Errorf("set enabled: %w", err)
		}
	}

	s.publishDelta(locationID, rec, upd)
	return &rec, nil
}

func (s *InventoryService) List(ctx context.Context, locationID uuid.UUID) ([]database.InventoryView, error) {
	return s.store.ListInventory(ctx, locationID)
}

func (s *InventoryService) publishDelta(locationID uuid.UUID, rec database.InventoryRecord, upd InventoryUpdate) {
	delta := ws.InventoryDeltaPayload{ItemID: rec.ItemID}
	if upd.Price != nil {
		price := numericToDecimal(rec.Price).StringFixed(2)
		delta.Price = &price
	}
	if upd.Quantity != nil {
		qty := rec.Quantity
		delta.Quantity = &qty
	}
	if upd.Enabled != nil {
		enabled := rec.Enabled
		delta.Enabled = &enabled
	}

	event, err := ws.NewEvent(ws.EventInventoryDelta, delta)
	if err != nil {
		logrus.WithError(err).Error("encode inventory:delta event")
		return
	}
	s.events.Publish(locationID, event)
}
