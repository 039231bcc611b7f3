// Package services implements the weather gateway façade: cache lookup,
// upstream fetch, unit normalization and degradation to synthetic data.
package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/domain"
	"github.com/sean-rowe/farm-weather-gateway/internal/core/ports"
)

// DefaultReadingTTL is how long a real reading is served from cache.
const DefaultReadingTTL = 30 * time.Minute

// DefaultLookupTimeout bounds one audit trail write.
const DefaultLookupTimeout = 2 * time.Second

// Plausibility bounds applied after unit conversion.
const (
	minPlausibleCelsius = -90.0
	maxPlausibleCelsius = 70.0
)

// WeatherGateway returns a reading for any coordinates. Upstream trouble of
// any kind is absorbed and turned into a simulated reading.
type WeatherGateway struct {
	source    ports.ObservationSource
	cache     ports.ReadingCache
	synthetic *SyntheticGenerator
	tokens    ports.TokenInvalidator
	metrics   ports.GatewayMetrics
	lookups   ports.LookupRepository
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger

	lookupTimeout time.Duration
	pending       sync.WaitGroup
}

// GatewayOption customizes a WeatherGateway.
type GatewayOption func(*WeatherGateway)

// WithReadingTTL overrides DefaultReadingTTL.
func WithReadingTTL(ttl time.Duration) GatewayOption {
	return func(g *WeatherGateway) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGatewayClock replaces time.Now.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *WeatherGateway) {
		g.now = now
	}
}

// WithTokenInvalidator makes ClearCache also drop the cached upstream token.
func WithTokenInvalidator(tokens ports.TokenInvalidator) GatewayOption {
	return func(g *WeatherGateway) {
		g.tokens = tokens
	}
}

// WithMetrics records cache and provenance counters.
func WithMetrics(metrics ports.GatewayMetrics) GatewayOption {
	return func(g *WeatherGateway) {
		g.metrics = metrics
	}
}

// WithLookupRepository writes every lookup to the audit trail.
func WithLookupRepository(repo ports.LookupRepository) GatewayOption {
	return func(g *WeatherGateway) {
		g.lookups = repo
	}
}

// WithLookupTimeout overrides DefaultLookupTimeout.
func WithLookupTimeout(d time.Duration) GatewayOption {
	return func(g *WeatherGateway) {
		if d > 0 {
			g.lookupTimeout = d
		}
	}
}

// NewWeatherGateway creates the gateway façade.
//
// Parameters:
//   - source: Upstream observation source (normally breaker-wrapped)
//   - cache: Reading cache shared by all requests
//   - synthetic: Generator used when the upstream fails
//   - logger: Zap logger for degradations and cache writes
//   - opts: Optional clock, TTL, metrics, audit and token invalidation
//
// Returns:
//   - *WeatherGateway: Gateway ready to serve concurrent lookups
func NewWeatherGateway(
	source ports.ObservationSource,
	cache ports.ReadingCache,
	synthetic *SyntheticGenerator,
	logger *zap.Logger,
	opts ...GatewayOption,
) *WeatherGateway {
	g := &WeatherGateway{
		source:    source,
		cache:     cache,
		synthetic: synthetic,
		ttl:       DefaultReadingTTL,
		now:       time.Now,
		logger:    logger,

		lookupTimeout: DefaultLookupTimeout,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// GetReading returns the cached reading for today, a fresh upstream reading,
// or a simulated one. It never fails.
func (g *WeatherGateway) GetReading(ctx context.Context, coords domain.Coordinates) domain.WeatherReading {
	ctx, span := otel.Tracer("gateway").Start(ctx, "WeatherGateway.GetReading")
	defer span.End()

	span.SetAttributes(
		attribute.Float64("weather.latitude", coords.Latitude),
		attribute.Float64("weather.longitude", coords.Longitude),
	)

	started := g.now()
	key := domain.NewCacheKey(coords, started, domain.VariableCombined)

	if cached, ok := g.cache.Get(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		g.recordCache(ctx, true)
		g.recordLookup(ctx, cached, true, started)

		return cached
	}

	span.SetAttributes(attribute.Bool("cache.hit", false))
	g.recordCache(ctx, false)

	reading, err := g.fetch(ctx, coords, started)

	if err != nil {
		span.RecordError(err)
		reading = g.degrade(coords, started, err)
	} else if err := g.cache.Put(ctx, key, reading, g.ttl); err != nil {
		g.logger.Warn("failed to cache reading", zap.String("key", string(key)), zap.Error(err))
	}

	span.SetAttributes(attribute.String("weather.source", string(reading.Source)))

	if g.metrics != nil {
		var kind domain.ErrorKind
		if reading.Degradation != nil {
			kind = reading.Degradation.Kind
		}

		g.metrics.RecordReading(ctx, reading.Source, kind)
	}

	g.recordLookup(ctx, reading, false, started)

	return reading
}

// ClearCache drops every cached reading and the cached upstream token.
// The token is invalidated even when clearing the reading cache fails.
func (g *WeatherGateway) ClearCache(ctx context.Context) error {
	err := g.cache.Clear(ctx)

	if g.tokens != nil {
		g.tokens.Invalidate()
	}

	if err != nil {
		return fmt.Errorf("failed to clear reading cache: %w", err)
	}

	g.logger.Info("weather cache and upstream token cleared")

	return nil
}

func (g *WeatherGateway) fetch(ctx context.Context, coords domain.Coordinates, now time.Time) (domain.WeatherReading, error) {
	if err := coords.Validate(); err != nil {
		return domain.WeatherReading{}, &domain.WeatherError{
			Code:    domain.CodeInvalidCoordinates,
			Message: "the provided coordinates are invalid",
			Cause:   err,
		}
	}

	obs, err := g.source.FetchObservation(ctx, coords, now)

	if err != nil {
		return domain.WeatherReading{}, err
	}

	tempC, humidity, err := normalize(obs)

	if err != nil {
		return domain.WeatherReading{}, err
	}

	return domain.WeatherReading{
		TemperatureCelsius: tempC,
		HumidityPercent:    humidity,
		ObservedAt:         now,
		Source:             domain.SourceReal,
		UpstreamRunLabel:   obs.RunLabel,
		Coordinates:        coords,
	}, nil
}

func (g *WeatherGateway) degrade(coords domain.Coordinates, now time.Time, cause error) domain.WeatherReading {
	reading := g.synthetic.Generate(now)
	reading.Coordinates = coords
	reading.Degradation = domain.NewDegradation(cause)

	g.logger.Warn("serving simulated weather reading",
		zap.String("error_kind", string(reading.Degradation.Kind)),
		zap.Int("upstream_status", reading.Degradation.UpstreamStatus),
		zap.Float64("latitude", coords.Latitude),
		zap.Float64("longitude", coords.Longitude),
		zap.Error(cause))

	return reading
}

// normalize converts the raw observation to Celsius and percent and rejects
// values no real station would report.
func normalize(obs *ports.Observation) (float64, float64, error) {
	if obs == nil {
		return 0, 0, domain.NewNormalizationFailure("empty observation", nil)
	}

	if math.IsNaN(obs.Temperature.Value) || math.IsInf(obs.Temperature.Value, 0) {
		return 0, 0, domain.NewNormalizationFailure("temperature is not a finite number", nil)
	}

	tempC, err := obs.Temperature.Celsius()

	if err != nil {
		return 0, 0, domain.NewNormalizationFailure("temperature unit conversion failed", err)
	}

	if tempC < minPlausibleCelsius || tempC > maxPlausibleCelsius {
		return 0, 0, domain.NewNormalizationFailure(
			fmt.Sprintf("temperature %.2f°C outside plausible range", tempC), nil)
	}

	humidity := obs.HumidityPercent

	if math.IsNaN(humidity) || humidity < 0 || humidity > 100 {
		return 0, 0, domain.NewNormalizationFailure(
			fmt.Sprintf("humidity %.2f%% outside [0, 100]", humidity), nil)
	}

	return tempC, humidity, nil
}

func (g *WeatherGateway) recordCache(ctx context.Context, hit bool) {
	if g.metrics == nil {
		return
	}

	if hit {
		g.metrics.RecordCacheHit(ctx)
	} else {
		g.metrics.RecordCacheMiss(ctx)
	}
}

func (g *WeatherGateway) recordLookup(ctx context.Context, reading domain.WeatherReading, cacheHit bool, started time.Time) {
	if g.lookups == nil {
		return
	}

	record := ports.LookupRecord{
		Latitude:           reading.Coordinates.Latitude,
		Longitude:          reading.Coordinates.Longitude,
		TemperatureCelsius: reading.TemperatureCelsius,
		HumidityPercent:    reading.HumidityPercent,
		Source:             reading.Source,
		CacheHit:           cacheHit,
		Duration:           g.now().Sub(started),
	}

	if d := reading.Degradation; d != nil {
		record.ErrorKind = d.Kind
		record.UpstreamStatus = d.UpstreamStatus
		record.ErrorMessage = d.Message
	}

	// The write runs after the reading is returned and keeps the request
	// values (correlation id) but not its cancellation.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.lookupTimeout)

	g.pending.Add(1)

	go func() {
		defer g.pending.Done()
		defer cancel()

		if err := g.lookups.LogLookup(writeCtx, record); err != nil {
			g.logger.Warn("failed to record weather lookup", zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight audit trail writes have finished. Each write is
// bounded by the lookup timeout.
func (g *WeatherGateway) Wait() {
	g.pending.Wait()
}
