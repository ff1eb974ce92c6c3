package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentDetails is the caller-supplied payment identity.
type PaymentDetails struct {
	Name  string
	UpiID string
}

// PaymentProcessor is the external payment step. It may take seconds;
// callers invoke it outside any database transaction. Any error,
// including a timeout, is treated as a declined payment.
type PaymentProcessor interface {
	Charge(ctx context.Context, amount decimal.Decimal, details PaymentDetails) (ref string, err error)
}

// GatewayProcessor charges through an HTTP payment gateway.
type GatewayProcessor struct {
	url    string
	client *http.Client
}

func NewGatewayProcessor(url string, timeout time.Duration) *GatewayProcessor {
	return &GatewayProcessor{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type chargeRequest struct {
	Amount string `json:"amount"`
	Name   string `json:"name"`
	UpiID  string `json:"upi_id"`
}

type chargeResponse struct {
	Reference string `json:"reference"`
	Error     string `json:"error"`
}

func (g *GatewayProcessor) Charge(ctx context.Context, amount decimal.Decimal, details PaymentDetails) (string, error) {
	body, err := json.Marshal(chargeRequest{
		Amount: amount.StringFixed(2),
		Name:   details.Name,
		UpiID:  details.UpiID,
	})
	if err != nil {
		return "", fmt.Errorf("encode charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("charge request: %w", err)
	}
	defer resp.Body.Close()

	var out chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode charge response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if out.Error != "" {
			return "", fmt.Errorf("payment gateway: %s", out.Error)
		}
		return "", fmt.Errorf("payment gateway: status %d", resp.StatusCode)
	}
	return out.Reference, nil
}
