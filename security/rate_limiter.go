package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimiter caps how many payment sessions a single member can open
// inside a fixed window. The counter lives in redis so the cap holds
// across restarts and replicas.
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		redis:  redisClient,
		limit:  limit,
		window: window,
	}
}

// Allow records one attempt for the identity and reports whether it is
// still under the cap. Redis errors fail open: a broken limiter must not
// block payments.
func (r *RateLimiter) Allow(ctx context.Context, identity string) error {
	key := fmt.Sprintf("session_rate:%s", identity)

	// Incr and the TTL are applied in one transaction so the counter can
	// never survive without an expiry.
	pipe := r.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil
	}

	if incr.Val() > int64(r.limit) {
		return ErrRateLimited
	}
	return nil
}
