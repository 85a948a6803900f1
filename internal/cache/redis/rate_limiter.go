package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const waitPollInterval = 50 * time.Millisecond

// Limit is a request budget per sliding window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// DefaultLimit applies to Wait for keys without a configured Limit.
var DefaultLimit = Limit{Requests: 1, Window: time.Second}

// RateLimiter implements domain.RateLimiter with a sliding window kept in a
// Redis sorted set, so the budget is shared by every instance using the
// same key, e.g. a public price API quota.
type RateLimiter struct {
	c             *Client
	slidingWindow *redis.Script
	limits        map[string]Limit
}

// NewRateLimiter creates a RateLimiter. limits configures Wait per key.
func NewRateLimiter(c *Client, limits map[string]Limit) *RateLimiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &RateLimiter{
		c:             c,
		slidingWindow: redis.NewScript(slidingWindowLua),
		limits:        limits,
	}
}

// Allow reports whether one more request fits in the window and counts it
// when it does.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	result, err := rl.slidingWindow.Run(
		ctx,
		rl.c.rdb,
		[]string{rl.c.key("ratelimit", key)},
		time.Now().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(result))
	}
	return result[0] == 1, nil
}

// Wait blocks until the key's configured Limit admits a request.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	lim, ok := rl.limits[key]
	if !ok {
		lim = DefaultLimit
	}
	for {
		allowed, err := rl.Allow(ctx, key, lim.Requests, lim.Window)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
