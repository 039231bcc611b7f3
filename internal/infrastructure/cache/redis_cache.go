package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// scanBatch is the COUNT hint used when clearing the key namespace.
const scanBatch = 200

// RedisCache stores readings in Redis so that several gateway instances
// share one cache. Keys are namespaced with prefix; Clear only touches
// that namespace.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// Config holds Redis connection and pool settings.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisClient opens a client and verifies it with PING.
//
// Parameters:
//   - ctx: Context bounding the connectivity check
//   - cfg: Redis connection configuration
//
// Returns:
//   - *redis.Client: Connected client
//   - error: PING failure
func NewRedisClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// NewRedisCache creates a Redis-backed store.
func NewRedisCache(client *redis.Client, prefix string, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Get returns the stored bytes or ErrCacheMiss.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := otel.Tracer("cache").Start(ctx, "RedisCache.Get")
	defer span.End()

	span.SetAttributes(attribute.String("cache.key", key))

	result, err := r.client.Get(ctx, r.prefix+key).Bytes()

	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	}

	if err != nil {
		span.RecordError(err)
		r.logger.Error("redis cache get failed", zap.String("key", key), zap.Error(err))

		return nil, err
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))

	return result, nil
}

// Set stores value under key for ttl.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := otel.Tracer("cache").Start(ctx, "RedisCache.Set")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.key", key),
		attribute.Int("cache.value_size", len(value)),
		attribute.String("cache.ttl", ttl.String()),
	)

	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		span.RecordError(err)
		r.logger.Error("redis cache set failed", zap.String("key", key), zap.Error(err))

		return err
	}

	return nil
}

// Delete removes key.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	ctx, span := otel.Tracer("cache").Start(ctx, "RedisCache.Delete")
	defer span.End()

	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		span.RecordError(err)
		return err
	}

	return nil
}

// Clear deletes every key in the namespace using SCAN, leaving other data
// in the same Redis database untouched.
func (r *RedisCache) Clear(ctx context.Context) error {
	ctx, span := otel.Tracer("cache").Start(ctx, "RedisCache.Clear")
	defer span.End()

	var (
		cursor  uint64
		deleted int64
	)

	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", scanBatch).Result()
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("redis scan failed: %w", err)
		}

		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				span.RecordError(err)
				return fmt.Errorf("redis delete failed: %w", err)
			}

			deleted += n
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	r.logger.Info("redis cache cleared", zap.String("prefix", r.prefix), zap.Int64("deleted", deleted))

	return nil
}
