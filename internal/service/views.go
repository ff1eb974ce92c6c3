package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/quickserve-pos/api/internal/database"
)

// OrderView is the JSON shape of an order, shared by HTTP responses and
// the order:new event payload.
type OrderView struct {
	ID                uuid.UUID       `json:"id"`
	TenantID          uuid.UUID       `json:"tenant_id"`
	LocationID        uuid.UUID       `json:"location_id"`
	OrderNo           int32           `json:"order_no"`
	Items             []OrderItemView `json:"items"`
	TotalAmount       string          `json:"total_amount"`
	PaymentStatus     string          `json:"payment_status"`
	OrderStatus       string          `json:"order_status"`
	FulfillmentStatus string          `json:"fulfillment_status"`
	PaymentName       *string         `json:"payment_name"`
	PaymentUpiID      *string         `json:"payment_upi_id"`
	PaymentRef        *string         `json:"payment_ref"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type OrderItemView struct {
	ItemID   uuid.UUID `json:"item_id"`
	Name     string    `json:"name"`
	Quantity int32     `json:"quantity"`
	Price    string    `json:"price"`
}

func ToOrderView(o database.Order) OrderView {
	items := make([]OrderItemView, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemView{
			ItemID:   it.ItemID,
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    it.Price,
		}
	}

	v := OrderView{
		ID:                o.ID,
		TenantID:          o.TenantID,
		LocationID:        o.LocationID,
		OrderNo:           o.OrderNo,
		Items:             items,
		TotalAmount:       numericToDecimal(o.TotalAmount).StringFixed(2),
		PaymentStatus:     o.PaymentStatus,
		OrderStatus:       o.OrderStatus,
		FulfillmentStatus: o.FulfillmentStatus,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}

	if o.PaymentName.Valid {
		v.PaymentName = &o.PaymentName.String
	}
	if o.PaymentUpiID.Valid {
		v.PaymentUpiID = &o.PaymentUpiID.String
	}
	if o.PaymentRef.Valid {
		v.PaymentRef = &o.PaymentRef.String
	}
	return v
}
