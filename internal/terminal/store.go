package terminal

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket layout. Everything is keyed by item id so per-item updates are
// single-key overwrites inside one write transaction.
var (
	bucketCart    = []byte("cart")
	bucketCatalog = []byte("catalog")
	bucketDeltas  = []byte("deltas")
)

// CartEntry is one line of the customer's in-progress cart. Cleared on
// successful submission, survives reloads otherwise.
type CartEntry struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	Quantity int32  `json:"quantity"`
}

// CachedItem is the locally cached copy of a menu item, used to render
// the grid while offline or on a slow network.
type CachedItem struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	Quantity int32  `json:"quantity"`
	Enabled  bool   `json:"enabled"`
}

// PendingDelta is an inventory change pushed from the back office,
// held until the next checkout or cache refresh consumes it. One entry
// per item; later deltas merge field-wise over earlier ones.
type PendingDelta struct {
	ItemID   string  `json:"item_id"`
	Price    *string `json:"price,omitempty"`
	Quantity *int32  `json:"quantity,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
}

// Store is the terminal's durable local state: cart, catalog snapshot
// and pending-delta queue, all in one bbolt file per installation.
type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open terminal store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketCart, bucketCatalog, bucketDeltas} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init terminal store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- Cart ---

// PutCartEntry inserts or replaces the cart line for the entry's item.
func (s *Store) PutCartEntry(entry CartEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketCart), entry.ItemID, entry)
	})
}

func (s *Store) RemoveCartEntry(itemID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCart).Delete([]byte(itemID))
	})
}

func (s *Store) CartEntries() ([]CartEntry, error) {
	var out []CartEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCart).ForEach(func(k, v []byte) error {
			var e CartEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode cart entry %s: %w", k, err)
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// ClearCart empties the cart after a successful submission.
func (s *Store) ClearCart() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketCart); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketCart)
		return err
	})
}

// --- Catalog cache ---

func (s *Store) PutCatalogItem(item CachedItem) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketCatalog), item.ItemID, item)
	})
}

func (s *Store) CatalogItems() ([]CachedItem, error) {
	var out []CachedItem
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCatalog).ForEach(func(k, v []byte) error {
			var it CachedItem
			if err := json.Unmarshal(v, &it); err != nil {
				return fmt.Errorf("decode catalog item %s: %w", k, err)
			}
			out = append(out, it)
			return nil
		})
	})
	return out, err
}

// --- Pending deltas ---

// PutDelta merges the delta into the queue entry for its item: one
// pending delta per item, later fields win over earlier ones.
func (s *Store) PutDelta(delta PendingDelta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeltas)

		merged := delta
		if existing := b.Get([]byte(delta.ItemID)); existing != nil {
			var prev PendingDelta
			if err := json.Unmarshal(existing, &prev); err == nil {
				if merged.Price == nil {
					merged.Price = prev.Price
				}
				if merged.Quantity == nil {
					merged.Quantity = prev.Quantity
				}
				if merged.Enabled == nil {
					merged.Enabled = prev.Enabled
				}
			}
		}
		return putJSON(b, merged.ItemID, merged)
	})
}

func (s *Store) PendingDeltas() ([]PendingDelta, error) {
	var out []PendingDelta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeltas).ForEach(func(k, v []byte) error {
			var d PendingDelta
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("decode pending delta %s: %w", k, err)
			}
			out = append(out, d)
			return nil
		})
	})
	return out, err
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}
