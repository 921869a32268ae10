package repository

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RateLimitRepository interface {
	// CheckRateLimit counts one hit against key and reports whether the caller
	// is still within requests per window.
	CheckRateLimit(ctx context.Context, key string, requests int, window time.Duration) (bool, error)
}

type rateLimitRepository struct {
	client redis.Cmdable
}

func NewRateLimitRepository(client redis.Cmdable) RateLimitRepository {
	return &rateLimitRepository{client: client}
}

func (r *rateLimitRepository) CheckRateLimit(ctx context.Context, key string, requests int, window time.Duration) (bool, error) {
	// Hash the key for privacy
	hashedKey := fmt.Sprintf("rl:%x", sha256.Sum256([]byte(key)))

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, hashedKey)
		ttl = pipe.TTL(ctx, hashedKey)
		return nil
	})
	if err != nil {
		// Fail open
		return true, err
	}

	// A key without a TTL is either new or left behind by a failed EXPIRE.
	if ttl.Val() < 0 {
		if err := r.client.Expire(ctx, hashedKey, window).Err(); err != nil {
			return true, err
		}
	}
	return incr.Val() <= int64(requests), nil
}
