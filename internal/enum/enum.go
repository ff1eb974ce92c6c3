package enum

// ── State machines (CHECK constrained in DB) ──

const (
	OrderStatusPending   = "PENDING"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusFailed    = "FAILED"
)

const (
	PaymentStatusPending = "PENDING"
	PaymentStatusDone    = "DONE"
	PaymentStatusFailed  = "FAILED"
)

// Fulfillment advances monotonically through FulfillmentSequence; only
// Completed orders ever move past Created.
const (
	FulfillmentCreated  = "CREATED"
	FulfillmentReceived = "RECEIVED"
	FulfillmentCooking  = "COOKING"
	FulfillmentPrepared = "PREPARED"
	FulfillmentServed   = "SERVED"
)

// FulfillmentSequence is the fixed kitchen progression, in order.
var FulfillmentSequence = []string{
	FulfillmentCreated,
	FulfillmentReceived,
	FulfillmentCooking,
	FulfillmentPrepared,
	FulfillmentServed,
}

// NextFulfillment returns the step after cur, or "" when cur is the
// final step or not a known status.
func NextFulfillment(cur string) string {
	for i, s := range FulfillmentSequence {
		if s == cur && i+1 < len(FulfillmentSequence) {
			return FulfillmentSequence[i+1]
		}
	}
	return ""
}

// ── Roles (CHECK constrained in DB) ──

const (
	UserRoleOwner    = "OWNER"
	UserRoleStaff    = "STAFF"
	UserRoleKitchen  = "KITCHEN"
	UserRoleTerminal = "TERMINAL"
)
