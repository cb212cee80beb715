// Package authcache provides the Gateway's Redis-backed API-key rate
// limiter, adapted from apisix-go-runner's authz plugin: same
// pipe.HSet/Expire shape turned into pipe.Incr/Expire for a fixed-window
// counter, with the JWT/JWKS/gRPC-to-IAM machinery dropped since the
// Gateway's key scopes come from static config (spec §6's
// `api_keys_by_scope`), not an external identity service.
package authcache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces a fixed-window per-minute request budget per API
// key using Redis INCR + EXPIRE, the same pipelined primitive
// apisix-go-runner's authz plugin uses for its allow/permissions cache.
type RateLimiter struct {
	redis *redis.Client
	limit int
}

// New builds a RateLimiter. limitPerMinute is spec §6's
// `rate_limit_per_minute` Gateway config option; zero or negative
// disables limiting entirely.
func New(client *redis.Client, limitPerMinute int) *RateLimiter {
	return &RateLimiter{redis: client, limit: limitPerMinute}
}

// Allow increments the current minute's counter for apiKey and reports
// whether the request is within budget. The window key includes the
// wall-clock minute so it self-expires: a fresh key naturally starts the
// count over every 60 seconds without a separate reset sweep.
func (l *RateLimiter) Allow(ctx context.Context, apiKey string, now time.Time) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	window := now.UTC().Format("200601021504")
	key := fmt.Sprintf("ratelimit:%s:%s", apiKey, window)

	pipe := l.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 90*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit pipeline: %w", err)
	}
	return incr.Val() <= int64(l.limit), nil
}
