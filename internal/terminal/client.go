package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// APIClient talks to the gateway's HTTP surface on behalf of one
// terminal installation.
type APIClient struct {
	baseURL    string
	token      string
	locationID uuid.UUID
	http       *http.Client
}

func NewAPIClient(baseURL, token string, locationID uuid.UUID) *APIClient {
	return &APIClient{
		baseURL:    baseURL,
		token:      token,
		locationID: locationID,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

// Login exchanges terminal credentials for a token and the location the
// credential is bound to.
func Login(ctx context.Context, baseURL, email, password string) (string, uuid.UUID, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", uuid.Nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", uuid.Nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", uuid.Nil, fmt.Errorf("login: status %d", resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"access_token"`
		User        struct {
			LocationID uuid.UUID `json:"location_id"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", uuid.Nil, fmt.Errorf("decode login response: %w", err)
	}
	return result.AccessToken, result.User.LocationID, nil
}

// PaymentDetails identifies the payer for the gateway charge.
type PaymentDetails struct {
	Name  string `json:"name"`
	UpiID string `json:"upi_id"`
}

type submitOrderRequest struct {
	Items          []submitOrderItem `json:"items"`
	TotalAmount    string            `json:"total_amount"`
	PaymentDetails PaymentDetails    `json:"payment_details"`
}

type submitOrderItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int32  `json:"quantity"`
	Price    string `json:"price"`
}

// SubmittedOrder is the slice of the order response the terminal shows
// to the customer.
type SubmittedOrder struct {
	ID            uuid.UUID `json:"id"`
	OrderNo       int32     `json:"order_no"`
	OrderStatus   string    `json:"order_status"`
	PaymentStatus string    `json:"payment_status"`
	TotalAmount   string    `json:"total_amount"`
}

type orderErrorResponse struct {
	Error string          `json:"error"`
	Order *SubmittedOrder `json:"order,omitempty"`
}

// SubmitError carries the gateway's rejection of an order. Order is set
// when the order itself exists but payment failed.
type SubmitError struct {
	StatusCode int
	Message    string
	Order      *SubmittedOrder
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("order rejected (%d): %s", e.StatusCode, e.Message)
}

// SubmitOrder posts the cart as an order. The item prices and total are
// the reconciled local ones; the gateway rejects the order if stock
// moved again in between.
func (c *APIClient) SubmitOrder(ctx context.Context, entries []CartEntry, total string, payment PaymentDetails) (*SubmittedOrder, error) {
	items := make([]submitOrderItem, len(entries))
	for i, e := range entries {
		items[i] = submitOrderItem{ID: e.ItemID, Name: e.Name, Quantity: e.Quantity, Price: e.Price}
	}

	body, err := json.Marshal(submitOrderRequest{
		Items:          items,
		TotalAmount:    total,
		PaymentDetails: payment,
	})
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	url := fmt.Sprintf("%s/locations/%s/orders", c.baseURL, c.locationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		var order SubmittedOrder
		if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
			return nil, fmt.Errorf("decode order response: %w", err)
		}
		return &order, nil
	}

	var errResp orderErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(raw, &errResp); err != nil {
		errResp.Error = http.StatusText(resp.StatusCode)
	}
	return nil, &SubmitError{
		StatusCode: resp.StatusCode,
		Message:    errResp.Error,
		Order:      errResp.Order,
	}
}

type inventoryListResponse struct {
	Items []struct {
		ItemID   uuid.UUID `json:"item_id"`
		Name     string    `json:"name"`
		Quantity int32     `json:"quantity"`
		Price    string    `json:"price"`
		Enabled  bool      `json:"enabled"`
	} `json:"items"`
}

// RefreshCatalog replaces the local catalog cache with the gateway's
// current inventory and discards queued deltas, which the fresh
// snapshot already reflects. Used at startup and after a realtime
// outage.
func (c *APIClient) RefreshCatalog(ctx context.Context, store *Store) error {
	url := fmt.Sprintf("%s/locations/%s/inventory", c.baseURL, c.locationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch inventory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch inventory: status %d", resp.StatusCode)
	}

	var list inventoryListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("decode inventory: %w", err)
	}

	return store.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketCatalog, bucketDeltas} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}

		catalog := tx.Bucket(bucketCatalog)
		for _, it := range list.Items {
			item := CachedItem{
				ItemID:   it.ItemID.String(),
				Name:     it.Name,
				Price:    it.Price,
				Quantity: it.Quantity,
				Enabled:  it.Enabled,
			}
			if err := putJSON(catalog, item.ItemID, item); err != nil {
				return err
			}
		}
		return nil
	})
}
