package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentCanceled PaymentStatus = "canceled"
)

type PaymentMethod string

const (
	MethodGatewayCard   PaymentMethod = "gateway_card"
	MethodCash          PaymentMethod = "cash"
	MethodCheck         PaymentMethod = "check"
	MethodBankTransfer  PaymentMethod = "bank_transfer"
	MethodStandingOrder PaymentMethod = "standing_order"
)

// Gateway reports whether the method is validated by the payment gateway.
// Records for gateway methods are only ever written as "paid" after an
// independent validation response; the other methods have no validation
// authority and carry whatever status the operator declared.
func (m PaymentMethod) Gateway() bool {
	return m == MethodGatewayCard
}

// PaymentRecord is the durable payment row stored in the payments collection.
type PaymentRecord struct {
	ID       string          `json:"id"`
	MemberID string          `json:"member_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Method   PaymentMethod   `json:"method"`
	Status   PaymentStatus   `json:"status"`

	// Gateway metadata, empty for non-gateway methods.
	TransactionID string `json:"transaction_id,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`
	SettlementID  string `json:"settlement_id,omitempty"`
	CardMask      string `json:"card_mask,omitempty"`

	ReceiptURL    string `json:"receipt_url,omitempty"`
	ReceiptNumber string `json:"receipt_number,omitempty"`

	Description string     `json:"description,omitempty"`
	Note        string     `json:"note,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SessionState is the lifecycle state of one payment session. States are an
// explicit enum; UI flags are derived from them, never stored separately.
type SessionState string

const (
	StateInitializing SessionState = "initializing"
	StateAwaiting     SessionState = "awaiting_completion"
	StateValidating   SessionState = "validating"
	StateCompleted    SessionState = "completed"
	StateFailed       SessionState = "failed"
	StateCanceled     SessionState = "canceled"
)

func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// FailureKind distinguishes failure classes so the caller can render a
// configuration message, a retry button, or a timeout notice.
type FailureKind string

const (
	// FailureConfiguration marks a merchant-capability error; retrying the
	// same request cannot succeed.
	FailureConfiguration FailureKind = "configuration"

	// FailureGateway covers rejected or failed transactions and gateway
	// request errors; the whole session may be retried.
	FailureGateway FailureKind = "gateway"

	// FailureMismatch marks a confirmed amount that did not match the
	// requested amount.
	FailureMismatch FailureKind = "validation_mismatch"

	// FailureTimeout means no confirmation arrived before the poll timeout.
	// The transaction may still complete later out-of-band.
	FailureTimeout FailureKind = "timeout"

	// FailurePersistence means the gateway confirmed the charge but the
	// internal record write failed. The success-handling step should be
	// re-run; it is idempotent by transaction id.
	FailurePersistence FailureKind = "persistence"
)

type Failure struct {
	Kind      FailureKind `json:"kind"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

// Customer carries optional contact details used for receipt generation only.
type Customer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// SessionSnapshot is the caller-facing view of a payment session.
type SessionSnapshot struct {
	SessionID     string          `json:"session_id"`
	MemberID      string          `json:"member_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	State         SessionState    `json:"state"`
	TransactionID string          `json:"transaction_id,omitempty"`
	PaymentPage   string          `json:"payment_page,omitempty"`
	ReceiptURL    string          `json:"receipt_url,omitempty"`
	ReceiptError  string          `json:"receipt_error,omitempty"`
	PaymentID     string          `json:"payment_id,omitempty"`
	Failure       *Failure        `json:"failure,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Member is the minimal subject a payment record relates to. Member
// management itself lives outside this service.
type Member struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Status string `json:"status"` // active, frozen, canceled
}
