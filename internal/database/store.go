package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Store is the hand-written query layer. Construct one over a pool for
// standalone queries or over a pgx.Tx to join a transaction.
type Store struct {
	db DBTX
}

func New(db DBTX) *Store {
	return &Store{db: db}
}

// --- Inventory ledger ---

// ReserveStock performs the guarded decrement: the quantity is reduced
// only if the current value covers the requested amount. Returns false
// when the guard fails (row missing or insufficient stock).
func (s *Store) ReserveStock(ctx context.Context, locationID, itemID uuid.UUID, qty int32) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE inventory
		SET quantity = quantity - $3, updated_at = now()
		WHERE location_id = $1 AND item_id = $2 AND enabled AND quantity >= $3`,
		locationID, itemID, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RestoreStock is the compensating increment for a failed order.
func (s *Store) RestoreStock(ctx context.Context, locationID, itemID uuid.UUID, qty int32) error {
	_, err := s.db.Exec(ctx, `
		UPDATE inventory
		SET quantity = quantity + $3, updated_at = now()
		WHERE location_id = $1 AND item_id = $2`,
		locationID, itemID, qty)
	return err
}

func (s *Store) GetInventoryRecord(ctx context.Context, locationID, itemID uuid.UUID) (InventoryRecord, error) {
	var rec InventoryRecord
	err := s.db.QueryRow(ctx, `
		SELECT item_id, location_id, quantity, price, enabled, updated_at
		FROM inventory
		WHERE location_id = $1 AND item_id = $2`,
		locationID, itemID).
		Scan(&rec.ItemID, &rec.LocationID, &rec.Quantity, &rec.Price, &rec.Enabled, &rec.UpdatedAt)
	return rec, err
}

// SetInventoryPrice upserts the row and sets the outlet price override.
func (s *Store) SetInventoryPrice(ctx context.Context, locationID, itemID uuid.UUID, price pgtype.Numeric) (InventoryRecord, error) {
	var rec InventoryRecord
	err := s.db.QueryRow(ctx, `
		INSERT INTO inventory (item_id, location_id, quantity, price, enabled)
		VALUES ($2, $1, 0, $3, true)
		ON CONFLICT (item_id, location_id)
		DO UPDATE SET price = EXCLUDED.price, updated_at = now()
		RETURNING item_id, location_id, quantity, price, enabled, updated_at`,
		locationID, itemID, price).
		Scan(&rec.ItemID, &rec.LocationID, &rec.Quantity, &rec.Price, &rec.Enabled, &rec.UpdatedAt)
	return rec, err
}

// SetInventoryQuantity upserts the row and sets the absolute quantity.
// A row created here carries no price: readers fall back to the catalog
// default until a price is set explicitly.
func (s *Store) SetInventoryQuantity(ctx context.Context, locationID, itemID uuid.UUID, qty int32) (InventoryRecord, error) {
	var rec InventoryRecord
	err := s.db.QueryRow(ctx, `
		INSERT INTO inventory (item_id, location_id, quantity, enabled)
		VALUES ($2, $1, $3, true)
		ON CONFLICT (item_id, location_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = now()
		RETURNING item_id, location_id, quantity, price, enabled, updated_at`,
		locationID, itemID, qty).
		Scan(&rec.ItemID, &rec.LocationID, &rec.Quantity, &rec.Price, &rec.Enabled, &rec.UpdatedAt)
	return rec, err
}

func (s *Store) SetInventoryEnabled(ctx context.Context, locationID, itemID uuid.UUID, enabled bool) (InventoryRecord, error) {
	var rec InventoryRecord
	err := s.db.QueryRow(ctx, `
		INSERT INTO inventory (item_id, location_id, quantity, enabled)
		VALUES ($2, $1, 0, $3)
		ON CONFLICT (item_id, location_id)
		DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = now()
		RETURNING item_id, location_id, quantity, price, enabled, updated_at`,
		locationID, itemID, enabled).
		Scan(&rec.ItemID, &rec.LocationID, &rec.Quantity, &rec.Price, &rec.Enabled, &rec.UpdatedAt)
	return rec, err
}

func (s *Store) ListInventory(ctx context.Context, locationID uuid.UUID) ([]InventoryView, error) {
	rows, err := s.db.Query(ctx, `
		SELECT inv.item_id, ci.name, inv.quantity, inv.price, ci.base_price, inv.enabled
		FROM inventory inv
		JOIN catalog_items ci ON ci.id = inv.item_id
		WHERE inv.location_id = $1
		ORDER BY ci.name`,
		locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InventoryView
	for rows.Next() {
		var v InventoryView
		if err := rows.Scan(&v.ItemID, &v.Name, &v.Quantity, &v.Price, &v.BasePrice, &v.Enabled); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- Locations ---

func (s *Store) GetLocation(ctx context.Context, id uuid.UUID) (Location, error) {
	var loc Location
	err := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, name, order_counter, created_at
		FROM locations
		WHERE id = $1`,
		id).
		Scan(&loc.ID, &loc.TenantID, &loc.Name, &loc.OrderCounter, &loc.CreatedAt)
	return loc, err
}

// --- Order numbers ---

// NextOrderNumber atomically increments and returns the location's
// counter. Numbers reflect allocation order; a later Failed order still
// consumes its number.
func (s *Store) NextOrderNumber(ctx context.Context, locationID uuid.UUID) (int32, error) {
	var n int32
	err := s.db.QueryRow(ctx, `
		UPDATE locations
		SET order_counter = order_counter + 1
		WHERE id = $1
		RETURNING order_counter`,
		locationID).Scan(&n)
	return n, err
}

// --- Orders ---

const orderColumns = `id, tenant_id, location_id, order_no, items, total_amount,
	payment_status, order_status, fulfillment_status,
	payment_name, payment_upi_id, payment_ref, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (Order, error) {
	var o Order
	var itemsJSON []byte
	err := row.Scan(&o.ID, &o.TenantID, &o.LocationID, &o.OrderNo, &itemsJSON, &o.TotalAmount,
		&o.PaymentStatus, &o.OrderStatus, &o.FulfillmentStatus,
		&o.PaymentName, &o.PaymentUpiID, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return Order{}, fmt.Errorf("decode order items: %w", err)
	}
	return o, nil
}

type CreateOrderParams struct {
	TenantID     uuid.UUID
	LocationID   uuid.UUID
	OrderNo      int32
	Items        []OrderItem
	TotalAmount  pgtype.Numeric
	PaymentName  string
	PaymentUpiID string
}

// CreateOrder inserts a Pending order with its frozen items snapshot.
func (s *Store) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	itemsJSON, err := json.Marshal(arg.Items)
	if err != nil {
		return Order{}, fmt.Errorf("encode order items: %w", err)
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO orders (tenant_id, location_id, order_no, items, total_amount,
			payment_status, order_status, fulfillment_status, payment_name, payment_upi_id)
		VALUES ($1, $2, $3, $4, $5, 'PENDING', 'PENDING', 'CREATED', $6, $7)
		RETURNING `+orderColumns,
		arg.TenantID, arg.LocationID, arg.OrderNo, itemsJSON, arg.TotalAmount,
		arg.PaymentName, arg.PaymentUpiID)
	return scanOrder(row)
}

type GetOrderParams struct {
	ID         uuid.UUID
	LocationID uuid.UUID
}

func (s *Store) GetOrder(ctx context.Context, arg GetOrderParams) (Order, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1 AND location_id = $2`,
		arg.ID, arg.LocationID)
	return scanOrder(row)
}

// ListActiveOrders returns the kitchen/display snapshot: Completed
// orders not yet served, oldest first.
func (s *Store) ListActiveOrders(ctx context.Context, locationID uuid.UUID) ([]Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE location_id = $1 AND order_status = 'COMPLETED' AND fulfillment_status <> 'SERVED'
		ORDER BY created_at ASC`,
		locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type FinalizeOrderParams struct {
	ID            uuid.UUID
	PaymentStatus string
	OrderStatus   string
	PaymentRef    pgtype.Text
}

// FinalizeOrder moves a Pending order to its terminal status. The
// WHERE clause makes the Pending → Completed/Failed transition happen
// exactly once; a second finalize sees no rows.
func (s *Store) FinalizeOrder(ctx context.Context, arg FinalizeOrderParams) (Order, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE orders
		SET payment_status = $2, order_status = $3, payment_ref = $4, updated_at = now()
		WHERE id = $1 AND order_status = 'PENDING'
		RETURNING `+orderColumns,
		arg.ID, arg.PaymentStatus, arg.OrderStatus, arg.PaymentRef)
	return scanOrder(row)
}

type AdvanceFulfillmentParams struct {
	ID         uuid.UUID
	LocationID uuid.UUID
	From       string
	To         string
}

// AdvanceFulfillment moves the kitchen status one step, guarded by the
// expected current value so concurrent advances cannot skip a step.
func (s *Store) AdvanceFulfillment(ctx context.Context, arg AdvanceFulfillmentParams) (Order, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE orders
		SET fulfillment_status = $4, updated_at = now()
		WHERE id = $1 AND location_id = $2 AND order_status = 'COMPLETED' AND fulfillment_status = $3
		RETURNING `+orderColumns,
		arg.ID, arg.LocationID, arg.From, arg.To)
	return scanOrder(row)
}

// --- Users ---

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, location_id, email, hashed_password, full_name, role, created_at
		FROM users
		WHERE email = $1`,
		email).
		Scan(&u.ID, &u.TenantID, &u.LocationID, &u.Email, &u.HashedPassword, &u.FullName, &u.Role, &u.CreatedAt)
	return u, err
}

// --- Catalog ---

func (s *Store) GetCatalogItem(ctx context.Context, tenantID, itemID uuid.UUID) (CatalogItem, error) {
	var ci CatalogItem
	err := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, name, base_price, created_at
		FROM catalog_items
		WHERE id = $1 AND tenant_id = $2`,
		itemID, tenantID).
		Scan(&ci.ID, &ci.TenantID, &ci.Name, &ci.BasePrice, &ci.CreatedAt)
	return ci, err
}
