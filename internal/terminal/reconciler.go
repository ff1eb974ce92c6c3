package terminal

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// Notice kinds surfaced to the customer when reconciliation changed
// their cart.
const (
	NoticeRemoved    = "removed"
	NoticeOutOfStock = "out_of_stock"
	NoticeClamped    = "clamped"
	NoticeRepriced   = "repriced"
)

// Notice describes one customer-visible cart adjustment.
type Notice struct {
	ItemID  string `json:"item_id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Reconciler applies queued inventory deltas to the local cart and
// catalog cache. It runs at checkout, before the order is submitted,
// so the customer confirms a cart the kitchen can actually honor.
type Reconciler struct {
	store *Store

	mu       sync.Mutex
	inFlight bool
}

func NewReconciler(store *Store) *Reconciler {
	return &Reconciler{store: store}
}

// InFlight reports whether a reconciliation pass is currently running.
// Checkout must not proceed to payment while this is true.
func (r *Reconciler) InFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}

// Reconcile drains the pending-delta queue and applies every delta to
// the cart and catalog cache in a single transaction. The queue is
// always fully drained, never partially.
//
// Adjustment rules, in order per cart line:
//   - item disabled: line removed
//   - quantity now zero: line removed
//   - quantity below cart quantity: line clamped down
//   - price changed: line repriced
//
// Clamp and reprice compose on the same line. With silent set (the
// customer walked away and the cart is being carried over, not
// confirmed) the same adjustments happen but no notices are returned.
func (r *Reconciler) Reconcile(silent bool) ([]Notice, error) {
	r.mu.Lock()
	r.inFlight = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.inFlight = false
		r.mu.Unlock()
	}()

	var notices []Notice

	err := r.store.db.Update(func(tx *bolt.Tx) error {
		deltas := tx.Bucket(bucketDeltas)
		cart := tx.Bucket(bucketCart)
		catalog := tx.Bucket(bucketCatalog)

		var drained []PendingDelta
		err := deltas.ForEach(func(k, v []byte) error {
			var d PendingDelta
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("decode pending delta %s: %w", k, err)
			}
			drained = append(drained, d)
			return nil
		})
		if err != nil {
			return err
		}

		for _, d := range drained {
			if err := applyToCatalog(catalog, d); err != nil {
				return err
			}

			n, err := applyToCart(cart, d)
			if err != nil {
				return err
			}
			notices = append(notices, n...)

			if err := deltas.Delete([]byte(d.ItemID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	if silent {
		if len(notices) > 0 {
			logrus.WithField("adjustments", len(notices)).Debug("silent reconcile adjusted carried-over cart")
		}
		return nil, nil
	}
	return notices, nil
}

func applyToCatalog(catalog *bolt.Bucket, d PendingDelta) error {
	raw := catalog.Get([]byte(d.ItemID))
	if raw == nil {
		return nil
	}
	var item CachedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return fmt.Errorf("decode catalog item %s: %w", d.ItemID, err)
	}

	if d.Price != nil {
		item.Price = *d.Price
	}
	if d.Quantity != nil {
		item.Quantity = *d.Quantity
	}
	if d.Enabled != nil {
		item.Enabled = *d.Enabled
	}
	return putJSON(catalog, item.ItemID, item)
}

func applyToCart(cart *bolt.Bucket, d PendingDelta) ([]Notice, error) {
	raw := cart.Get([]byte(d.ItemID))
	if raw == nil {
		return nil, nil
	}
	var line CartEntry
	if err := json.Unmarshal(raw, &line); err != nil {
		return nil, fmt.Errorf("decode cart entry %s: %w", d.ItemID, err)
	}

	if d.Enabled != nil && !*d.Enabled {
		if err := cart.Delete([]byte(d.ItemID)); err != nil {
			return nil, err
		}
		return []Notice{{
			ItemID:  line.ItemID,
			Name:    line.Name,
			Kind:    NoticeRemoved,
			Message: fmt.Sprintf("%s is no longer available and was removed from your cart", line.Name),
		}}, nil
	}

	if d.Quantity != nil && *d.Quantity == 0 {
		if err := cart.Delete([]byte(d.ItemID)); err != nil {
			return nil, err
		}
		return []Notice{{
			ItemID:  line.ItemID,
			Name:    line.Name,
			Kind:    NoticeOutOfStock,
			Message: fmt.Sprintf("%s is out of stock and was removed from your cart", line.Name),
		}}, nil
	}

	var notices []Notice
	changed := false

	if d.Quantity != nil && *d.Quantity < line.Quantity {
		notices = append(notices, Notice{
			ItemID:  line.ItemID,
			Name:    line.Name,
			Kind:    NoticeClamped,
			Message: fmt.Sprintf("only %d of %s available, reduced from %d to %d", *d.Quantity, line.Name, line.Quantity, *d.Quantity),
		})
		line.Quantity = *d.Quantity
		changed = true
	}

	if d.Price != nil && *d.Price != line.Price {
		notices = append(notices, Notice{
			ItemID:  line.ItemID,
			Name:    line.Name,
			Kind:    NoticeRepriced,
			Message: fmt.Sprintf("price of %s changed from %s to %s", line.Name, line.Price, *d.Price),
		})
		line.Price = *d.Price
		changed = true
	}

	if changed {
		if err := putJSON(cart, line.ItemID, line); err != nil {
			return nil, err
		}
	}
	return notices, nil
}
