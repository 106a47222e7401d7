package hyp

import (
	"bytes"
	"club-system/internal/status"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// permissionDeniedCode is the gateway's code for a terminal that lacks a
// required capability. The message pattern is matched as well because some
// gateway versions reuse the code for unrelated replies.
const permissionDeniedCode = 902

const permissionDeniedPattern = "not authorized for this terminal action"

type ClientConfig struct {
	BaseURL    string `json:"baseUrl" mapstructure:"base_url"`
	TerminalID string `json:"terminalId" mapstructure:"terminal_id"`
	APIKey     string `json:"apiKey" mapstructure:"api_key"`
	SecretKey  string `json:"secretKey" mapstructure:"secret_key"`
}

type Client struct {
	// baseURL is the base url of the gateway backend.
	baseURL string

	// terminalID identifies the merchant terminal.
	terminalID string

	// apiKey is the client key for the gateway backend.
	apiKey string

	// hmacKey signs every request body.
	hmacKey string

	// access token is used to authenticate with the gateway backend.
	accessToken string

	// mu is used to lock access token.
	mu sync.Mutex

	// toggleTokenRefresher is used to notify token refresher to refresh token.
	toggleTokenRefresher chan struct{}

	// hc is the http client.
	hc *http.Client
}

func newClient(_ context.Context, c *ClientConfig) *Client {
	return &Client{
		baseURL:    c.BaseURL,
		terminalID: c.TerminalID,
		apiKey:     c.APIKey,
		hmacKey:    c.SecretKey,

		// make a buffered channel to avoid blocking.
		toggleTokenRefresher: make(chan struct{}, 1),

		// set http client with timeout.
		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// notifyAccessTokenExpired do infinite loop with period of time
// to perform auto renew token from the gateway backend with
// exponential backOff strategy.
func (c *Client) notifyAccessTokenExpired(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return

		case <-ticker.C:

		case <-c.toggleTokenRefresher:
			log.Println("notifyAccessTokenExpired: toggleTokenRefresher => token refreshed")
		}

		// reconnect with exponential backOff strategy
		backOff := time.Second

	Retry:
		for {
			token, err := c.connect(ctx)
			switch err {
			case nil:
				c.setAccessToken(token)

				break Retry

			default:
				log.Printf("notifyAccessTokenExpired: %v", err)
				select {
				case <-ctx.Done():
					return

				case <-time.After(backOff):
					backOff *= 2
				}
			}
		}
	}
}

// setAccessToken set access token to client.
func (c *Client) setAccessToken(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = accessToken
}

// getAccessToken get access token from client.
func (c *Client) getAccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// envelope is the gateway's reply wrapper for every endpoint.
type envelope struct {
	Status  string          `json:"status"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// connect makes http call to perform authentication with the gateway backend.
func (c *Client) connect(ctx context.Context) (string, error) {
	number, err := randomNumber()
	if err != nil {
		return "", fmt.Errorf("connectGateway: randomNumber: %v", err)
	}

	body := fmt.Sprintf(`{"requestId":%q,"terminalId":%q,"apiKey":%q}`, number, c.terminalID, c.apiKey)
	bodyReader := bytes.NewReader([]byte(body))

	_baseURL, _ := url.Parse(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s%s", _baseURL.String(), "/api/v1/authenticate"), bodyReader)
	if err != nil {
		return "", fmt.Errorf("connectGateway: http.NewReq: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("SignedHash", Hmac256([]byte(body), []byte(c.hmacKey)))

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("connectGateway: http.Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("connectGateway: resp.StatusCode: %d", resp.StatusCode)
	}

	var reply struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			AccessToken string `json:"accessToken"`
			TokenType   string `json:"tokenType"`
		} `json:"data"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return "", fmt.Errorf("connectGateway: json.Decode: %v", err)
	}
	if reply.Status != "OK" {
		return "", fmt.Errorf("connectGateway: reply.Status: %v, reply.Message: %v", reply.Status, reply.Message)
	}

	return fmt.Sprintf("%s %s", reply.Data.TokenType, reply.Data.AccessToken), nil
}

// sessionForm is the session-creation request body.
type sessionForm struct {
	RequestID   string `json:"requestId"`
	TerminalID  string `json:"terminalId"`
	Amount      string `json:"txnAmount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`

	CustomerName  string `json:"customerName,omitempty"`
	CustomerEmail string `json:"customerEmail,omitempty"`
	CustomerPhone string `json:"customerPhone,omitempty"`

	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

// createSession asks the gateway to open a hosted-page payment session.
func (c *Client) createSession(ctx context.Context, f *status.SessionRequest) (*status.SessionInfo, error) {
	number, err := randomNumber()
	if err != nil {
		return nil, fmt.Errorf("createSession: randomNumber: %v", err)
	}

	form := sessionForm{
		RequestID:   number,
		TerminalID:  c.terminalID,
		Amount:      f.Amount.StringFixed(2),
		Currency:    f.Currency,
		Description: f.Description,

		CustomerName:  f.CustomerName,
		CustomerEmail: f.CustomerEmail,
		CustomerPhone: f.CustomerPhone,

		SuccessURL: f.SuccessURL,
		CancelURL:  f.CancelURL,
	}
	body, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("createSession: json.Marshal: %v", err)
	}

	reply, err := c.call(ctx, "/api/v1/session", body)
	if err != nil {
		return nil, err
	}

	var data struct {
		TransactionID  string `json:"transactionId"`
		PaymentPageURL string `json:"paymentPageUrl"`
	}
	if err := json.Unmarshal(reply.Data, &data); err != nil {
		return nil, &status.GatewayError{Kind: status.GatewayInvalidRequest, Message: fmt.Sprintf("malformed session reply: %v", err)}
	}
	if data.TransactionID == "" || data.PaymentPageURL == "" {
		return nil, &status.GatewayError{Kind: status.GatewayInvalidRequest, Message: "session reply missing transaction id or payment page url"}
	}

	return &status.SessionInfo{
		TransactionID: data.TransactionID,
		PaymentPage:   data.PaymentPageURL,
	}, nil
}

// txPayload is the transaction status reply body.
type txPayload struct {
	TransactionID string          `json:"transactionId"`
	State         string          `json:"status"`
	Amount        decimal.Decimal `json:"txnAmount"`
	Currency      string          `json:"currency"`
	CardMask      string          `json:"cardMask"`
	SettlementID  string          `json:"settlementId"`
	PaidAt        string          `json:"paidAt"`
	Reason        string          `json:"reason"`
}

func (p *txPayload) toDomain() (*status.CheckResult, error) {
	switch p.State {
	case "PENDING":
		return &status.CheckResult{State: status.TxPending}, nil

	case "FAILED":
		return &status.CheckResult{State: status.TxFailed, Reason: p.Reason}, nil

	case "CANCELED":
		return &status.CheckResult{State: status.TxCanceled, Reason: p.Reason}, nil

	case "PAID":
		ts, err := time.ParseInLocation("2006-01-02 15:04:05", p.PaidAt, time.Local)
		if err != nil {
			return nil, fmt.Errorf("txPayload: parse paidAt: %v", err)
		}
		return &status.CheckResult{
			State: status.TxPaid,
			Validation: &status.Validation{
				TransactionID: p.TransactionID,
				SettlementID:  p.SettlementID,
				Amount:        p.Amount,
				Currency:      p.Currency,
				CardMask:      p.CardMask,
				PaidAt:        ts,
			},
		}, nil

	default:
		return nil, fmt.Errorf("txPayload: unknown transaction status %q", p.State)
	}
}

// checkTransaction probes transaction status from the gateway api.
func (c *Client) checkTransaction(ctx context.Context, transactionID string) (*status.CheckResult, error) {
	number, err := randomNumber()
	if err != nil {
		return nil, fmt.Errorf("checkTransaction: randomNumber: %v", err)
	}

	body := fmt.Sprintf(`{"requestId":%q,"transactionId":%q}`, number, transactionID)

	reply, err := c.call(ctx, "/api/v1/transaction/status", []byte(body))
	if err != nil {
		return nil, err
	}

	var p txPayload
	if err := json.Unmarshal(reply.Data, &p); err != nil {
		return nil, &status.GatewayError{Kind: status.GatewayInvalidRequest, Message: fmt.Sprintf("malformed status reply: %v", err)}
	}

	result, err := p.toDomain()
	if err != nil {
		return nil, &status.GatewayError{Kind: status.GatewayInvalidRequest, Message: err.Error()}
	}

	return result, nil
}

// call performs one signed gateway request and maps transport and envelope
// failures into the gateway error taxonomy.
func (c *Client) call(ctx context.Context, path string, body []byte) (*envelope, error) {
	_baseURL, _ := url.Parse(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s%s", _baseURL.String(), path), bytes.NewReader(body))
	if err != nil {
		return nil, &status.GatewayError{Kind: status.GatewayInvalidRequest, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("SignedHash", Hmac256(body, []byte(c.hmacKey)))
	req.Header.Set("Authorization", c.getAccessToken())

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &status.GatewayError{Kind: status.GatewayTransient, Message: fmt.Sprintf("http.Do: %v", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// toggle token refresher and let the caller retry on the next tick.
		select {
		case c.toggleTokenRefresher <- struct{}{}:
		default:
		}
		return nil, &status.GatewayError{Kind: status.GatewayTransient, Code: resp.StatusCode, Message: "access token expired"}

	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &status.GatewayError{Kind: status.GatewayTransient, Code: resp.StatusCode, Message: "gateway backend error"}

	case resp.StatusCode >= http.StatusBadRequest:
		return nil, &status.GatewayError{Kind: status.GatewayInvalidRequest, Code: resp.StatusCode, Message: "gateway rejected request"}
	}

	var reply envelope
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return nil, &status.GatewayError{Kind: status.GatewayTransient, Message: fmt.Sprintf("json.Decode: %v", err)}
	}

	if reply.Status != "OK" {
		if reply.Code == permissionDeniedCode && strings.Contains(strings.ToLower(reply.Message), permissionDeniedPattern) {
			return nil, &status.GatewayError{Kind: status.GatewayPermissionDenied, Code: reply.Code, Message: reply.Message}
		}
		return nil, &status.GatewayError{Kind: status.GatewayInvalidRequest, Code: reply.Code, Message: reply.Message}
	}

	return &reply, nil
}
