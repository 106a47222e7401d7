package receipts

import (
	"club-system/internal/status"
	"club-system/models"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testValidation() *status.Validation {
	return &status.Validation{
		TransactionID: "tx-55",
		SettlementID:  "stl-9",
		Amount:        decimal.RequireFromString("150.00"),
		Currency:      "ILS",
		CardMask:      "4580****1234",
		PaidAt:        time.Date(2026, 8, 29, 14, 0, 0, 0, time.UTC),
	}
}

func TestClient_Generate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/documents", r.URL.Path)
		assert.Equal(t, "Bearer doc-key", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var form documentForm
		require.NoError(t, json.Unmarshal(body, &form))
		assert.Equal(t, "tx-55", form.TransactionID)
		assert.Equal(t, "150.00", form.Amount)
		assert.Equal(t, "Dana Levi", form.CustomerName)

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"documentId":"doc-1","documentNumber":"INV-2026-0042","url":"https://docs.example.com/r/doc-1"}`)
	}))
	defer server.Close()

	c := NewClient(&Config{BaseURL: server.URL, APIKey: "doc-key"})
	receipt, err := c.Generate(context.Background(), testValidation(), models.Customer{Name: "Dana Levi", Email: "dana@example.com"}, "Monthly membership")
	require.NoError(t, err)

	assert.Equal(t, "doc-1", receipt.DocumentID)
	assert.Equal(t, "INV-2026-0042", receipt.DocumentNumber)
	assert.Equal(t, "https://docs.example.com/r/doc-1", receipt.URL)
}

func TestClient_Generate_APIFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream unavailable")
	}))
	defer server.Close()

	c := NewClient(&Config{BaseURL: server.URL, APIKey: "doc-key"})
	_, err := c.Generate(context.Background(), testValidation(), models.Customer{}, "desc")
	require.Error(t, err)

	var re *status.ReceiptError
	require.True(t, errors.As(err, &re), "failure must be a ReceiptError, got %T", err)
	assert.Contains(t, re.Error(), "502")
}

func TestClient_Generate_MissingURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"documentId":"doc-1","documentNumber":"INV-1"}`)
	}))
	defer server.Close()

	c := NewClient(&Config{BaseURL: server.URL, APIKey: "doc-key"})
	_, err := c.Generate(context.Background(), testValidation(), models.Customer{}, "desc")
	require.Error(t, err)

	var re *status.ReceiptError
	require.True(t, errors.As(err, &re))
}
