package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/domain"
	"github.com/sean-rowe/farm-weather-gateway/internal/core/ports"
)

// entry is the serialized form of a cached reading.
type entry struct {
	Reading   domain.WeatherReading `json:"reading"`
	ExpiresAt time.Time             `json:"expiresAt"`
}

// ResponseCache maps CacheKeys to normalized readings.
//
// Every Get compares the stored expiresAt with the cache clock, so an entry
// is a miss from expiresAt onwards even if the underlying store has not
// evicted it yet. Entries are written whole, so a reader sees either the
// previous or the new entry.
type ResponseCache struct {
	store  ports.CacheService
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes a ResponseCache.
type Option func(*ResponseCache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) {
		c.now = now
	}
}

// NewResponseCache wraps a byte store.
func NewResponseCache(store ports.CacheService, logger *zap.Logger, opts ...Option) *ResponseCache {
	c := &ResponseCache{
		store:  store,
		now:    time.Now,
		logger: logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get returns the reading stored under key if it has not expired.
// Store errors and undecodable entries are reported as misses.
func (c *ResponseCache) Get(ctx context.Context, key domain.CacheKey) (domain.WeatherReading, bool) {
	raw, err := c.store.Get(ctx, string(key))

	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn("reading cache unavailable, treating as miss", zap.String("key", string(key)), zap.Error(err))
		}

		return domain.WeatherReading{}, false
	}

	var e entry

	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("ignoring undecodable cache entry", zap.String("key", string(key)), zap.Error(err))
		return domain.WeatherReading{}, false
	}

	// Stale entries are left to the store's own TTL eviction. Deleting here
	// could remove a fresh entry written after this read.
	if !c.now().Before(e.ExpiresAt) {
		return domain.WeatherReading{}, false
	}

	return e.Reading, true
}

// Put stores reading under key until now+ttl.
func (c *ResponseCache) Put(ctx context.Context, key domain.CacheKey, reading domain.WeatherReading, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}

	raw, err := json.Marshal(entry{Reading: reading, ExpiresAt: c.now().Add(ttl)})

	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	return c.store.Set(ctx, string(key), raw, ttl)
}

// Clear removes every cached reading.
func (c *ResponseCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}
