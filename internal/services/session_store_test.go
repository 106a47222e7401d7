package services

import (
	"club-system/internal/status"
	"club-system/models"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// matchSessionKey ignores the flattened field order of the HSET, which
// follows go map iteration order.
func matchSessionKey(key string) func(expected, actual []interface{}) error {
	return func(expected, actual []interface{}) error {
		if len(actual) < 2 {
			return fmt.Errorf("unexpected command shape: %v", actual)
		}
		if actual[1] != key {
			return fmt.Errorf("unexpected key: got %v, want %s", actual[1], key)
		}
		return nil
	}
}

func TestSessionStore_Save(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewSessionStore(db, time.Hour)

	key := "payment_session:ps_abc123"
	mock.CustomMatch(matchSessionKey(key)).ExpectHSet(key,
		"session_id", "ps_abc123",
		"member_id", "mbr_001",
		"transaction_id", "tx-55",
		"amount", "120.00",
		"currency", "ILS",
		"state", "awaiting_completion",
		"created_at", "1756400000",
	).SetVal(7)
	mock.ExpectExpire(key, time.Hour).SetVal(true)

	err := store.Save(context.Background(), &SessionCorrelation{
		SessionID:     "ps_abc123",
		MemberID:      "mbr_001",
		TransactionID: "tx-55",
		Amount:        decimal.RequireFromString("120.00"),
		Currency:      "ILS",
		State:         models.StateAwaiting,
		CreatedAt:     time.Unix(1756400000, 0),
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStore_Find(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewSessionStore(db, time.Hour)

	mock.ExpectHGetAll("payment_session:ps_abc123").SetVal(map[string]string{
		"session_id":     "ps_abc123",
		"member_id":      "mbr_001",
		"transaction_id": "tx-55",
		"amount":         "120.00",
		"currency":       "ILS",
		"state":          "awaiting_completion",
		"created_at":     "1756400000",
	})

	corr, err := store.Find(context.Background(), "ps_abc123")
	require.NoError(t, err)

	assert.Equal(t, "ps_abc123", corr.SessionID)
	assert.Equal(t, "mbr_001", corr.MemberID)
	assert.Equal(t, "tx-55", corr.TransactionID)
	assert.True(t, corr.Amount.Equal(decimal.RequireFromString("120.00")))
	assert.Equal(t, models.StateAwaiting, corr.State)
	assert.Equal(t, int64(1756400000), corr.CreatedAt.Unix())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStore_FindMissing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewSessionStore(db, time.Hour)

	mock.ExpectHGetAll("payment_session:ps_gone").SetVal(map[string]string{})

	_, err := store.Find(context.Background(), "ps_gone")
	assert.ErrorIs(t, err, status.ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStore_UpdateState(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewSessionStore(db, time.Hour)

	mock.ExpectHSet("payment_session:ps_abc123", "state", "failed").SetVal(1)

	err := store.UpdateState(context.Background(), "ps_abc123", models.StateFailed)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStore_Delete(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewSessionStore(db, time.Hour)

	mock.ExpectDel("payment_session:ps_abc123").SetVal(1)

	err := store.Delete(context.Background(), "ps_abc123")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
