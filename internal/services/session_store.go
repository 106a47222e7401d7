package services

import (
	"club-system/internal/status"
	"club-system/models"
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// SessionCorrelation is the slice of session state that must survive the
// full-page redirect to the gateway's hosted page and back. Its lifecycle is
// bounded by one payment attempt; the TTL drops abandoned sessions.
type SessionCorrelation struct {
	SessionID     string
	MemberID      string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	State         models.SessionState
	CreatedAt     time.Time
}

// SessionStore keeps session correlation data in redis so the page that
// resumes after the gateway redirect can find its session again.
type SessionStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewSessionStore(redisClient *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		redis: redisClient,
		ttl:   ttl,
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("payment_session:%s", sessionID)
}

func (s *SessionStore) Save(ctx context.Context, corr *SessionCorrelation) error {
	key := sessionKey(corr.SessionID)

	fields := map[string]any{
		"session_id":     corr.SessionID,
		"member_id":      corr.MemberID,
		"transaction_id": corr.TransactionID,
		"amount":         corr.Amount.StringFixed(2),
		"currency":       corr.Currency,
		"state":          string(corr.State),
		"created_at":     corr.CreatedAt.Unix(),
	}

	if err := s.redis.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("SessionStore.Save: redis.HSet: %w", err)
	}
	if err := s.redis.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("SessionStore.Save: redis.Expire: %w", err)
	}

	return nil
}

func (s *SessionStore) Find(ctx context.Context, sessionID string) (*SessionCorrelation, error) {
	data, err := s.redis.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("SessionStore.Find: redis.HGetAll: %w", err)
	}
	if len(data) == 0 {
		return nil, status.ErrSessionNotFound
	}

	amount, err := decimal.NewFromString(data["amount"])
	if err != nil {
		return nil, fmt.Errorf("SessionStore.Find: parse amount: %w", err)
	}

	corr := &SessionCorrelation{
		SessionID:     data["session_id"],
		MemberID:      data["member_id"],
		TransactionID: data["transaction_id"],
		Amount:        amount,
		Currency:      data["currency"],
		State:         models.SessionState(data["state"]),
	}
	if raw, ok := data["created_at"]; ok {
		var unix int64
		if _, err := fmt.Sscanf(raw, "%d", &unix); err == nil {
			corr.CreatedAt = time.Unix(unix, 0)
		}
	}

	return corr, nil
}

// UpdateState records a state transition without touching the TTL.
func (s *SessionStore) UpdateState(ctx context.Context, sessionID string, state models.SessionState) error {
	if err := s.redis.HSet(ctx, sessionKey(sessionID), "state", string(state)).Err(); err != nil {
		return fmt.Errorf("SessionStore.UpdateState: redis.HSet: %w", err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("SessionStore.Delete: redis.Del: %w", err)
	}
	return nil
}
