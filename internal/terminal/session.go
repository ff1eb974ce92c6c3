package terminal

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrReconcileInProgress = errors.New("reconciliation in progress")
)

// Session drives one terminal's checkout flow: reconcile the cart
// against queued inventory changes, let the customer confirm, then
// submit and clear.
type Session struct {
	store *Store
	rec   *Reconciler
	api   *APIClient
}

func NewSession(store *Store, rec *Reconciler, api *APIClient) *Session {
	return &Session{store: store, rec: rec, api: api}
}

// CheckoutSummary is what the terminal renders on the confirmation
// screen after reconciliation.
type CheckoutSummary struct {
	Entries []CartEntry
	Total   string
	Notices []Notice
}

// BeginCheckout reconciles pending deltas into the cart and returns the
// adjusted cart for the customer to confirm. Payment must not start
// until this returns.
func (s *Session) BeginCheckout() (*CheckoutSummary, error) {
	notices, err := s.rec.Reconcile(false)
	if err != nil {
		return nil, err
	}

	entries, err := s.store.CartEntries()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEmptyCart
	}

	total, err := cartTotal(entries)
	if err != nil {
		return nil, err
	}

	return &CheckoutSummary{Entries: entries, Total: total, Notices: notices}, nil
}

// Confirm submits the reconciled cart. On acceptance the cart is
// cleared; a declined payment or stale stock leaves it intact so the
// customer can retry.
func (s *Session) Confirm(ctx context.Context, payment PaymentDetails) (*SubmittedOrder, error) {
	if s.rec.InFlight() {
		return nil, ErrReconcileInProgress
	}

	entries, err := s.store.CartEntries()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEmptyCart
	}

	total, err := cartTotal(entries)
	if err != nil {
		return nil, err
	}

	order, err := s.api.SubmitOrder(ctx, entries, total, payment)
	if err != nil {
		return nil, err
	}

	if err := s.store.ClearCart(); err != nil {
		return order, fmt.Errorf("clear cart after submit: %w", err)
	}
	return order, nil
}

// Abandon handles the customer walking away from the confirmation
// screen: the cart carries over, already-drained deltas stay applied,
// and no notices are surfaced.
func (s *Session) Abandon() error {
	_, err := s.rec.Reconcile(true)
	return err
}

func cartTotal(entries []CartEntry) (string, error) {
	total := decimal.Zero
	for _, e := range entries {
		price, err := decimal.NewFromString(e.Price)
		if err != nil {
			return "", fmt.Errorf("cart entry %s: bad price %q", e.ItemID, e.Price)
		}
		total = total.Add(price.Mul(decimal.NewFromInt32(e.Quantity)))
	}
	return total.StringFixed(2), nil
}
