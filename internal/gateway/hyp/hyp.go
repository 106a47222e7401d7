package hyp

import (
	"club-system/internal/status"
	"context"
)

type Config struct {
	BaseURL    string `json:"baseUrl" mapstructure:"base_url"`
	TerminalID string `json:"terminalId" mapstructure:"terminal_id"`
	APIKey     string `json:"apiKey" mapstructure:"api_key"`
	SecretKey  string `json:"secretKey" mapstructure:"secret_key"`
}

// Hyp talks to the hosted-checkout payment gateway: it opens payment
// sessions and probes transaction status. Every request is HMAC-signed and
// carries the terminal's access token.
type Hyp struct {
	TerminalID string

	client *Client
}

// New returns a new Hyp instance connected to the gateway backend.
func New(ctx context.Context, cfg *Config) (*Hyp, error) {
	client := newClient(ctx, &ClientConfig{
		BaseURL:    cfg.BaseURL,
		TerminalID: cfg.TerminalID,
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
	})

	// Connect to the gateway backend. Get access token.
	token, err := client.connect(ctx)
	if err != nil {
		return nil, err
	}
	client.setAccessToken(token)

	// Notify access token expired.
	go client.notifyAccessTokenExpired(ctx)

	return &Hyp{
		TerminalID: cfg.TerminalID,
		client:     client,
	}, nil
}

// CreateSession opens a hosted-page payment session for the given request.
func (h *Hyp) CreateSession(ctx context.Context, req *status.SessionRequest) (*status.SessionInfo, error) {
	return h.client.createSession(ctx, req)
}

// CheckTransaction probes the gateway for the transaction's current state.
// A pending transaction is a result, not an error.
func (h *Hyp) CheckTransaction(ctx context.Context, transactionID string) (*status.CheckResult, error) {
	return h.client.checkTransaction(ctx, transactionID)
}
