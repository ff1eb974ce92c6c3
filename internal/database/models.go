package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// OrderItem is one line of an order's frozen item snapshot, stored as
// JSONB. It is a copy taken at submission time and never follows later
// catalog changes.
type OrderItem struct {
	ItemID   uuid.UUID `json:"item_id"`
	Name     string    `json:"name"`
	Quantity int32     `json:"quantity"`
	Price    string    `json:"price"`
}

type Order struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	LocationID        uuid.UUID
	OrderNo           int32
	Items             []OrderItem
	TotalAmount       pgtype.Numeric
	PaymentStatus     string
	OrderStatus       string
	FulfillmentStatus string
	PaymentName       pgtype.Text
	PaymentUpiID      pgtype.Text
	PaymentRef        pgtype.Text
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// InventoryRecord is the per-(item, location) ledger row. Price is
// nullable: absence means "use the catalog default at read time".
type InventoryRecord struct {
	ItemID     uuid.UUID
	LocationID uuid.UUID
	Quantity   int32
	Price      pgtype.Numeric
	Enabled    bool
	UpdatedAt  time.Time
}

// InventoryView joins the ledger with the catalog for reads.
type InventoryView struct {
	ItemID    uuid.UUID
	Name      string
	Quantity  int32
	Price     pgtype.Numeric // outlet override, may be null
	BasePrice pgtype.Numeric // catalog default
	Enabled   bool
}

type Location struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Name         string
	OrderCounter int32
	CreatedAt    time.Time
}

type User struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	LocationID     uuid.UUID
	Email          string
	HashedPassword string
	FullName       string
	Role           string
	CreatedAt      time.Time
}

type CatalogItem struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	BasePrice pgtype.Numeric
	CreatedAt time.Time
}
