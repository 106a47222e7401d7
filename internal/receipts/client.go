// Package receipts talks to the external documents API that issues
// receipt/invoice documents for completed payments.
package receipts

import (
	"bytes"
	"club-system/internal/status"
	"club-system/models"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type Config struct {
	BaseURL string `json:"baseUrl" mapstructure:"base_url"`
	APIKey  string `json:"apiKey" mapstructure:"api_key"`
}

type Client struct {
	baseURL string
	apiKey  string

	hc *http.Client
}

func NewClient(cfg *Config) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,

		hc: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type documentForm struct {
	TransactionID string `json:"transactionId"`
	SettlementID  string `json:"settlementId"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	CardMask      string `json:"cardMask,omitempty"`
	PaidAt        string `json:"paidAt"`

	CustomerName  string `json:"customerName,omitempty"`
	CustomerEmail string `json:"customerEmail,omitempty"`
	CustomerPhone string `json:"customerPhone,omitempty"`

	Description string `json:"description"`
}

// Generate requests a receipt document for a validated transaction and
// returns its retrievable URL. The call has no side effects beyond the
// outbound request; persisting the URL is the caller's responsibility.
func (c *Client) Generate(ctx context.Context, v *status.Validation, customer models.Customer, description string) (*status.Receipt, error) {
	form := documentForm{
		TransactionID: v.TransactionID,
		SettlementID:  v.SettlementID,
		Amount:        v.Amount.StringFixed(2),
		Currency:      v.Currency,
		CardMask:      v.CardMask,
		PaidAt:        v.PaidAt.Format(time.RFC3339),

		CustomerName:  customer.Name,
		CustomerEmail: customer.Email,
		CustomerPhone: customer.Phone,

		Description: description,
	}
	body, err := json.Marshal(form)
	if err != nil {
		return nil, &status.ReceiptError{Message: "marshal document request", Err: err}
	}

	_baseURL, _ := url.Parse(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s%s", _baseURL.String(), "/api/v1/documents"), bytes.NewReader(body))
	if err != nil {
		return nil, &status.ReceiptError{Message: "build document request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &status.ReceiptError{Message: "documents api unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		rbody, _ := io.ReadAll(resp.Body)
		return nil, &status.ReceiptError{Message: fmt.Sprintf("documents api status %d: %s", resp.StatusCode, rbody)}
	}

	var reply struct {
		DocumentID     string `json:"documentId"`
		DocumentNumber string `json:"documentNumber"`
		URL            string `json:"url"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return nil, &status.ReceiptError{Message: "decode document reply", Err: err}
	}
	if reply.URL == "" {
		return nil, &status.ReceiptError{Message: "document reply missing url"}
	}

	return &status.Receipt{
		DocumentID:     reply.DocumentID,
		DocumentNumber: reply.DocumentNumber,
		URL:            reply.URL,
	}, nil
}
