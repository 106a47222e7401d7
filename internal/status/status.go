package status

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrPollTimeout is returned when no definitive gateway response
	// arrived before the configured poll timeout elapsed.
	ErrPollTimeout = errors.New("payment: no confirmation received before timeout")

	ErrSessionNotFound = errors.New("payment: session not found")
	ErrSessionActive   = errors.New("payment: session already started")
	ErrSessionTerminal = errors.New("payment: session already in terminal state")
	ErrPaymentNotFound = errors.New("payment: payment record not found")
)

// GatewayErrorKind classifies gateway failures so callers can render
// a distinct message instead of a raw gateway error blob.
type GatewayErrorKind string

const (
	// GatewayPermissionDenied means the merchant terminal lacks a required
	// capability. Not retryable; the caller should show a support-contact
	// message rather than a retry button.
	GatewayPermissionDenied GatewayErrorKind = "permission_denied"

	// GatewayInvalidRequest covers 4xx replies and malformed requests.
	GatewayInvalidRequest GatewayErrorKind = "invalid_request"

	// GatewayTransient covers network failures and 5xx replies. Safe to
	// retry on the next poll tick.
	GatewayTransient GatewayErrorKind = "transient"

	// GatewayValidationMismatch means the gateway confirmed an amount that
	// does not match the requested amount. Fatal for the session.
	GatewayValidationMismatch GatewayErrorKind = "validation_mismatch"
)

type GatewayError struct {
	Kind    GatewayErrorKind
	Code    int
	Message string
}

func (e *GatewayError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("gateway: %s (code %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway: %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the error may resolve on its own.
func (e *GatewayError) Retryable() bool {
	return e.Kind == GatewayTransient
}

// AsGatewayError unwraps err into a *GatewayError if possible.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// PersistenceError wraps a failed payment record write. After a confirmed
// validation this is surfaced with a warning: the gateway has been charged
// but the internal record failed, and the caller is expected to re-run the
// idempotent success-handling step.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ReceiptError wraps a failed receipt document generation. It never changes
// the payment's own success state.
type ReceiptError struct {
	Message string
	Err     error
}

func (e *ReceiptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("receipt: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("receipt: %s", e.Message)
}

func (e *ReceiptError) Unwrap() error { return e.Err }

// TxState is the gateway's view of a transaction.
type TxState string

const (
	TxPending  TxState = "pending"
	TxPaid     TxState = "paid"
	TxFailed   TxState = "failed"
	TxCanceled TxState = "canceled"
)

// Validation is the gateway's authoritative confirmation that a transaction
// settled, including the confirmed amount to compare against the request.
type Validation struct {
	TransactionID string          `json:"transaction_id"`
	SettlementID  string          `json:"settlement_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CardMask      string          `json:"card_mask"`
	PaidAt        time.Time       `json:"paid_at"`
}

// CheckResult is one transaction status check. Validation is non-nil only
// when State is TxPaid.
type CheckResult struct {
	State      TxState
	Reason     string
	Validation *Validation
}

// SessionRequest is the input to the gateway's session-creation endpoint.
type SessionRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string

	CustomerName  string
	CustomerEmail string
	CustomerPhone string

	SuccessURL string
	CancelURL  string
}

// SessionInfo is the gateway's reply to a successful session creation.
type SessionInfo struct {
	TransactionID string
	PaymentPage   string
}

// Receipt is the document produced for a completed payment.
type Receipt struct {
	DocumentID     string `json:"document_id"`
	DocumentNumber string `json:"document_number"`
	URL            string `json:"url"`
}

// AmountsMatch compares a requested amount against a gateway-confirmed
// amount with fixed 2-decimal rounding. A gateway-reported "paid" amount is
// never trusted without this comparison.
func AmountsMatch(requested, confirmed decimal.Decimal) bool {
	return requested.Round(2).Equal(confirmed.Round(2))
}
