// Package ratelimit provides a Redis sliding-window rate limiter shared by
// every gateway instance.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// slidingWindow trims entries older than the window, then admits the request
// if fewer than limit remain. Scores are milliseconds; members are unique so
// requests within the same millisecond are all counted.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

if redis.call('ZCARD', key) < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return 1
end

return 0
`)

// RedisRateLimiter implements ports.RateLimitService on a Redis sorted set per client.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// NewRedisRateLimiter creates a Redis-based rate limiter.
//
// Parameters:
//   - client: Redis client for distributed state
//   - prefix: Key namespace, e.g. "farm-weather:ratelimit:"
//   - logger: Zap logger for rate limiting events
//
// Returns:
//   - *RedisRateLimiter: Redis rate limiter
func NewRedisRateLimiter(client *redis.Client, prefix string, logger *zap.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		prefix: prefix,
		now:    time.Now,
		logger: logger,
	}
}

// Allow reports whether identifier may make another request within window.
func (r *RedisRateLimiter) Allow(ctx context.Context, identifier string, limit int, window time.Duration) (bool, error) {
	ctx, span := otel.Tracer("ratelimit").Start(ctx, "RateLimit.Allow")
	defer span.End()

	span.SetAttributes(
		attribute.String("ratelimit.identifier", identifier),
		attribute.Int("ratelimit.limit", limit),
		attribute.String("ratelimit.window", window.String()),
	)

	result, err := slidingWindow.Run(ctx, r.client,
		[]string{r.prefix + identifier},
		limit, window.Milliseconds(), r.now().UnixMilli(), uuid.NewString(),
	).Int64()

	if err != nil {
		span.RecordError(err)
		r.logger.Error("rate limit eval error", zap.String("identifier", identifier), zap.Error(err))

		return false, fmt.Errorf("rate limit script failed: %w", err)
	}

	allowed := result == 1
	span.SetAttributes(attribute.Bool("ratelimit.allowed", allowed))

	if !allowed {
		r.logger.Debug("rate limit exceeded", zap.String("identifier", identifier), zap.Int("limit", limit))
	}

	return allowed, nil
}

// Reset clears the history of identifier.
func (r *RedisRateLimiter) Reset(ctx context.Context, identifier string) error {
	ctx, span := otel.Tracer("ratelimit").Start(ctx, "RateLimit.Reset")
	defer span.End()

	if err := r.client.Del(ctx, r.prefix+identifier).Err(); err != nil {
		span.RecordError(err)
		r.logger.Error("rate limit reset error", zap.String("identifier", identifier), zap.Error(err))

		return err
	}

	return nil
}
