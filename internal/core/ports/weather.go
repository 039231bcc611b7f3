// Package ports declares the interfaces between the weather gateway core and
// its adapters: the upstream observation source, caches, rate limiting and
// the lookup audit trail.
package ports

import (
	"context"
	"time"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/domain"
)

// WeatherGateway is the public façade used by transports and schedulers.
type WeatherGateway interface {
	// GetReading never fails; upstream trouble yields a simulated reading.
	GetReading(ctx context.Context, coords domain.Coordinates) domain.WeatherReading

	// ClearCache drops cached readings and the cached upstream token.
	ClearCache(ctx context.Context) error
}

// ObservationSource fetches raw temperature and humidity for one calendar date.
type ObservationSource interface {
	FetchObservation(ctx context.Context, coords domain.Coordinates, date time.Time) (*Observation, error)
}

// Observation is the raw upstream result before normalization.
type Observation struct {
	Temperature     domain.Temperature
	HumidityPercent float64
	RunLabel        string
}

// TokenInvalidator drops a cached upstream credential.
type TokenInvalidator interface {
	Invalidate()
}

// ReadingCache stores normalized readings under a CacheKey.
// Get must treat expired entries as absent.
type ReadingCache interface {
	Get(ctx context.Context, key domain.CacheKey) (domain.WeatherReading, bool)
	Put(ctx context.Context, key domain.CacheKey, reading domain.WeatherReading, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// CacheService is a byte-oriented key/value store with per-entry TTL.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// RateLimitService implements a sliding-window limit per client identifier.
type RateLimitService interface {
	Allow(ctx context.Context, identifier string, limit int, window time.Duration) (bool, error)
	Reset(ctx context.Context, identifier string) error
}

// GatewayMetrics receives counters from the gateway.
type GatewayMetrics interface {
	RecordCacheHit(ctx context.Context)
	RecordCacheMiss(ctx context.Context)
	RecordReading(ctx context.Context, source domain.Source, kind domain.ErrorKind)
}

// LookupRecord is one row of the lookup audit trail.
type LookupRecord struct {
	Latitude           float64
	Longitude          float64
	TemperatureCelsius float64
	HumidityPercent    float64
	Source             domain.Source
	CacheHit           bool
	ErrorKind          domain.ErrorKind
	UpstreamStatus     int
	ErrorMessage       string
	Duration           time.Duration
}

// LookupStats aggregates the audit trail over a period.
type LookupStats struct {
	TotalLookups      int     `json:"total_lookups"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	MaxResponseTimeMs int64   `json:"max_response_time_ms"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
	SimulatedRate     float64 `json:"simulated_rate"`
}

// LookupRepository persists lookup records.
type LookupRepository interface {
	LogLookup(ctx context.Context, record LookupRecord) error
	GetLookupStats(ctx context.Context, since time.Time) (*LookupStats, error)
}
