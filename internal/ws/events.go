package ws

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Event types pushed into location rooms. Control frames (join, joined,
// error) share the same envelope.
const (
	EventOrderCreated   = "order:new"
	EventOrderStatus    = "order:status"
	EventInventoryDelta = "inventory:delta"

	frameJoin   = "join"
	frameJoined = "joined"
	frameError  = "error"
)

// Event is the tagged-union envelope for every frame on the wire. Type
// is the discriminant; Payload decodes into one of the fixed shapes
// below.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Publisher fans an event out to every subscriber of a location's room.
// Implemented by *Hub directly and by the Redis bridge when the
// deployment runs more than one gateway process.
type Publisher interface {
	Publish(locationID uuid.UUID, event Event)
}

// StatusChangedPayload is a partial patch, not a full order. Consumers
// merge it into their view keyed by OrderID; absent fields mean "no
// change".
type StatusChangedPayload struct {
	OrderID           uuid.UUID `json:"order_id"`
	OrderNo           int32     `json:"order_no"`
	FulfillmentStatus string    `json:"fulfillment_status,omitempty"`
	OrderStatus       string    `json:"order_status,omitempty"`
	PaymentStatus     string    `json:"payment_status,omitempty"`
}

// InventoryDeltaPayload carries the fields a staff edit changed. Nil
// means untouched.
type InventoryDeltaPayload struct {
	ItemID   uuid.UUID `json:"item_id"`
	Price    *string   `json:"price,omitempty"`
	Quantity *int32    `json:"quantity,omitempty"`
	Enabled  *bool     `json:"enabled,omitempty"`
}

type joinPayload struct {
	LocationID string `json:"location_id"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// JoinEvent builds the join frame a consumer sends as its first message
// after connecting.
func JoinEvent(locationID uuid.UUID) Event {
	raw, _ := json.Marshal(joinPayload{LocationID: locationID.String()})
	return Event{Type: frameJoin, Payload: raw}
}

// IsJoinAck reports whether the frame acknowledges a successful join.
func (e Event) IsJoinAck() bool { return e.Type == frameJoined }

// ErrorMessage returns the server's error text if the frame is an error
// frame.
func (e Event) ErrorMessage() (string, bool) {
	if e.Type != frameError {
		return "", false
	}
	var p errorPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return "", false
	}
	return p.Error, true
}

// NewEvent marshals payload into an Event envelope.
func NewEvent(eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Payload: raw}, nil
}

// DecodeStatusChanged decodes an order:status payload.
func DecodeStatusChanged(e Event) (StatusChangedPayload, error) {
	var p StatusChangedPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return StatusChangedPayload{}, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return p, nil
}

// DecodeInventoryDelta decodes an inventory:delta payload.
func DecodeInventoryDelta(e Event) (InventoryDeltaPayload, error) {
	var p InventoryDeltaPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return InventoryDeltaPayload{}, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return p, nil
}
