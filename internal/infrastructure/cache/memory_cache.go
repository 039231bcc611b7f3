// Package cache provides the byte stores behind the reading cache (go-cache
// in process, Redis when shared across instances) and ResponseCache, which
// layers reading serialization and the expiry check on top of them.
package cache

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrCacheMiss indicates a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// MemoryCache is an in-process store backed by go-cache. Expired items are
// removed by go-cache's janitor every cleanupInterval.
type MemoryCache struct {
	cache  *gocache.Cache
	logger *zap.Logger
}

// NewMemoryCache creates an in-memory store.
//
// Parameters:
//   - defaultTTL: TTL used when Set is called with a zero ttl
//   - cleanupInterval: How often expired items are swept
//   - logger: Zap logger for cache operations
//
// Returns:
//   - *MemoryCache: In-memory store
func NewMemoryCache(defaultTTL, cleanupInterval time.Duration, logger *zap.Logger) *MemoryCache {
	return &MemoryCache{
		cache:  gocache.New(defaultTTL, cleanupInterval),
		logger: logger,
	}
}

// Get returns the stored bytes or ErrCacheMiss.
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	_, span := otel.Tracer("cache").Start(ctx, "MemoryCache.Get")
	defer span.End()

	span.SetAttributes(attribute.String("cache.key", key))

	value, found := m.cache.Get(key)
	span.SetAttributes(attribute.Bool("cache.hit", found))

	if !found {
		return nil, ErrCacheMiss
	}

	return value.([]byte), nil
}

// Set stores value under key for ttl.
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, span := otel.Tracer("cache").Start(ctx, "MemoryCache.Set")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.key", key),
		attribute.Int("cache.value_size", len(value)),
		attribute.String("cache.ttl", ttl.String()),
	)

	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}

	m.cache.Set(key, value, ttl)

	return nil
}

// Delete removes key.
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	_, span := otel.Tracer("cache").Start(ctx, "MemoryCache.Delete")
	defer span.End()

	m.cache.Delete(key)

	return nil
}

// Clear removes every item.
func (m *MemoryCache) Clear(ctx context.Context) error {
	_, span := otel.Tracer("cache").Start(ctx, "MemoryCache.Clear")
	defer span.End()

	m.cache.Flush()
	m.logger.Info("memory cache cleared")

	return nil
}

// ItemCount reports the number of stored items, including expired ones not yet swept.
func (m *MemoryCache) ItemCount() int {
	return m.cache.ItemCount()
}
