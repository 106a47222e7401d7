package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentRecord_JSONSerialization(t *testing.T) {
	paidAt := time.Now().UTC()

	record := PaymentRecord{
		ID:            "pay-123",
		MemberID:      "member-42",
		Amount:        decimal.RequireFromString("150.00"),
		Currency:      "ILS",
		Method:        MethodGatewayCard,
		Status:        PaymentPaid,
		TransactionID: "tx-9001",
		SettlementID:  "stl-777",
		CardMask:      "4580****1234",
		ReceiptURL:    "https://docs.example.com/r/abc",
		ReceiptNumber: "INV-2026-0042",
		PaidAt:        &paidAt,
		CreatedAt:     paidAt,
		UpdatedAt:     paidAt,
	}

	jsonData, err := json.Marshal(record)
	require.NoError(t, err)

	var unmarshaled PaymentRecord
	err = json.Unmarshal(jsonData, &unmarshaled)
	require.NoError(t, err)

	assert.Equal(t, record.ID, unmarshaled.ID)
	assert.Equal(t, record.MemberID, unmarshaled.MemberID)
	assert.True(t, record.Amount.Equal(unmarshaled.Amount))
	assert.Equal(t, record.Currency, unmarshaled.Currency)
	assert.Equal(t, record.Method, unmarshaled.Method)
	assert.Equal(t, record.Status, unmarshaled.Status)
	assert.Equal(t, record.TransactionID, unmarshaled.TransactionID)
	assert.Equal(t, record.ReceiptNumber, unmarshaled.ReceiptNumber)

	require.NotNil(t, unmarshaled.PaidAt)
	assert.WithinDuration(t, *record.PaidAt, *unmarshaled.PaidAt, time.Second)
}

func TestSessionState_Terminal(t *testing.T) {
	tests := []struct {
		state    SessionState
		terminal bool
	}{
		{StateInitializing, false},
		{StateAwaiting, false},
		{StateValidating, false},
		{StateCompleted, true},
		{StateFailed, true},
		{StateCanceled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.Terminal())
		})
	}
}

func TestPaymentMethod_Gateway(t *testing.T) {
	assert.True(t, MethodGatewayCard.Gateway())

	for _, m := range []PaymentMethod{MethodCash, MethodCheck, MethodBankTransfer, MethodStandingOrder} {
		assert.False(t, m.Gateway(), "method %s must not be treated as gateway-validated", m)
	}
}

func TestSessionSnapshot_FailureOmittedWhenNil(t *testing.T) {
	snap := SessionSnapshot{
		SessionID: "session-1",
		MemberID:  "member-1",
		Amount:    decimal.RequireFromString("99.90"),
		Currency:  "ILS",
		State:     StateAwaiting,
	}

	jsonData, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.NotContains(t, string(jsonData), "failure")

	snap.Failure = &Failure{Kind: FailureTimeout, Message: "no confirmation received", Retryable: true}
	jsonData, err = json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"kind":"timeout"`)
}
