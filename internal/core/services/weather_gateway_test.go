package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/domain"
	"github.com/sean-rowe/farm-weather-gateway/internal/core/ports"
)

// MockObservationSource is a mock implementation of ports.ObservationSource.
type MockObservationSource struct {
	mock.Mock
}

// FetchObservation mocks the upstream fetch.
//
// Parameters:
//   - ctx: Context for the request
//   - coords: Geographic coordinates
//   - date: Calendar date queried
//
// Returns:
//   - *ports.Observation: Mocked observation
//   - error: Mocked error if configured
func (m *MockObservationSource) FetchObservation(ctx context.Context, coords domain.Coordinates, date time.Time) (*ports.Observation, error) {
	args := m.Called(ctx, coords, date)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*ports.Observation), args.Error(1)
}

// MockReadingCache is a mock implementation of ports.ReadingCache.
type MockReadingCache struct {
	mock.Mock
}

func (m *MockReadingCache) Get(ctx context.Context, key domain.CacheKey) (domain.WeatherReading, bool) {
	args := m.Called(ctx, key)
	return args.Get(0).(domain.WeatherReading), args.Bool(1)
}

func (m *MockReadingCache) Put(ctx context.Context, key domain.CacheKey, reading domain.WeatherReading, ttl time.Duration) error {
	return m.Called(ctx, key, reading, ttl).Error(0)
}

func (m *MockReadingCache) Clear(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockTokenInvalidator is a mock implementation of ports.TokenInvalidator.
type MockTokenInvalidator struct {
	mock.Mock
}

func (m *MockTokenInvalidator) Invalidate() {
	m.Called()
}

// MockGatewayMetrics is a mock implementation of ports.GatewayMetrics.
type MockGatewayMetrics struct {
	mock.Mock
}

func (m *MockGatewayMetrics) RecordCacheHit(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockGatewayMetrics) RecordCacheMiss(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockGatewayMetrics) RecordReading(ctx context.Context, source domain.Source, kind domain.ErrorKind) {
	m.Called(ctx, source, kind)
}

// MockLookupRepository is a mock implementation of ports.LookupRepository.
type MockLookupRepository struct {
	mock.Mock
}

func (m *MockLookupRepository) LogLookup(ctx context.Context, record ports.LookupRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *MockLookupRepository) GetLookupStats(ctx context.Context, since time.Time) (*ports.LookupStats, error) {
	args := m.Called(ctx, since)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*ports.LookupStats), args.Error(1)
}

// mapCache is a minimal ReadingCache honoring expiry against the test clock.
type mapCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[domain.CacheKey]mapEntry
}

type mapEntry struct {
	reading   domain.WeatherReading
	expiresAt time.Time
}

func newMapCache(now func() time.Time) *mapCache {
	return &mapCache{now: now, entries: make(map[domain.CacheKey]mapEntry)}
}

func (c *mapCache) Get(_ context.Context, key domain.CacheKey) (domain.WeatherReading, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return domain.WeatherReading{}, false
	}

	return e.reading, true
}

func (c *mapCache) Put(_ context.Context, key domain.CacheKey, reading domain.WeatherReading, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = mapEntry{reading: reading, expiresAt: c.now().Add(ttl)}

	return nil
}

func (c *mapCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[domain.CacheKey]mapEntry)

	return nil
}

var (
	farm     = domain.Coordinates{Latitude: -23.55, Longitude: -46.63}
	fixedNow = time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)
)

func fixedClock() time.Time { return fixedNow }

func newTestGateway(source ports.ObservationSource, cache ports.ReadingCache, opts ...GatewayOption) *WeatherGateway {
	opts = append([]GatewayOption{WithGatewayClock(fixedClock)}, opts...)
	return NewWeatherGateway(source, cache, NewSyntheticGenerator(time.UTC), zap.NewNop(), opts...)
}

// TestWeatherGateway_GetReading covers the real and degraded paths of a cache miss.
func TestWeatherGateway_GetReading(t *testing.T) {
	tests := []struct {
		name         string
		coords       domain.Coordinates
		observation  *ports.Observation
		fetchErr     error
		skipFetch    bool
		wantSource   domain.Source
		wantTemp     float64
		wantHumidity float64
		wantKind     domain.ErrorKind
		wantStatus   int
	}{
		{
			name:   "celsius upstream",
			coords: farm,
			observation: &ports.Observation{
				Temperature:     domain.Temperature{Value: 25.3, Unit: domain.Celsius},
				HumidityPercent: 61,
				RunLabel:        "2025-03-14",
			},
			wantSource:   domain.SourceReal,
			wantTemp:     25.3,
			wantHumidity: 61,
		},
		{
			name:   "kelvin upstream is converted",
			coords: farm,
			observation: &ports.Observation{
				Temperature:     domain.Temperature{Value: 298.45, Unit: domain.Kelvin},
				HumidityPercent: 70,
				RunLabel:        "2025-03-14",
			},
			wantSource:   domain.SourceReal,
			wantTemp:     25.3,
			wantHumidity: 70,
		},
		{
			name:       "network failure degrades",
			coords:     farm,
			fetchErr:   domain.NewNetworkFailure(context.DeadlineExceeded),
			wantSource: domain.SourceSimulated,
			wantKind:   domain.KindNetwork,
		},
		{
			name:   "both credentials rejected degrades with status",
			coords: farm,
			fetchErr: domain.NewUpstreamFailure("pre-shared and oauth attempts both failed",
				domain.Attempt{Credential: "preshared", StatusCode: 401},
				domain.Attempt{Credential: "oauth", StatusCode: 503}),
			wantSource: domain.SourceSimulated,
			wantKind:   domain.KindUpstream,
			wantStatus: 503,
		},
		{
			name:       "missing credentials degrades",
			coords:     farm,
			fetchErr:   domain.NewAuthFailure("no oauth credentials configured", 0, ""),
			wantSource: domain.SourceSimulated,
			wantKind:   domain.KindAuth,
		},
		{
			name:   "implausible humidity is a normalization failure",
			coords: farm,
			observation: &ports.Observation{
				Temperature:     domain.Temperature{Value: 25, Unit: domain.Celsius},
				HumidityPercent: 120,
			},
			wantSource: domain.SourceSimulated,
			wantKind:   domain.KindNormalization,
		},
		{
			name:   "celsius-configured upstream reporting kelvin is rejected",
			coords: farm,
			observation: &ports.Observation{
				Temperature:     domain.Temperature{Value: 298.45, Unit: domain.Celsius},
				HumidityPercent: 61,
			},
			wantSource: domain.SourceSimulated,
			wantKind:   domain.KindNormalization,
		},
		{
			name:       "invalid coordinates never reach the upstream",
			coords:     domain.Coordinates{Latitude: 91, Longitude: 0},
			skipFetch:  true,
			wantSource: domain.SourceSimulated,
			wantKind:   domain.ErrorKind(domain.CodeInvalidCoordinates),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := new(MockObservationSource)
			cache := new(MockReadingCache)

			cache.On("Get", mock.Anything, mock.Anything).Return(domain.WeatherReading{}, false)
			cache.On("Put", mock.Anything, mock.Anything, mock.Anything, DefaultReadingTTL).Return(nil)

			if !tt.skipFetch {
				source.On("FetchObservation", mock.Anything, tt.coords, fixedNow).Return(tt.observation, tt.fetchErr)
			}

			reading := newTestGateway(source, cache).GetReading(context.Background(), tt.coords)

			assert.Equal(t, tt.wantSource, reading.Source)
			assert.Equal(t, tt.coords, reading.Coordinates)
			assert.Equal(t, fixedNow, reading.ObservedAt)

			if tt.wantSource == domain.SourceReal {
				assert.InDelta(t, tt.wantTemp, reading.TemperatureCelsius, 1e-9)
				assert.Equal(t, tt.wantHumidity, reading.HumidityPercent)
				assert.Nil(t, reading.Degradation)
				cache.AssertCalled(t, "Put", mock.Anything, domain.NewCacheKey(tt.coords, fixedNow, domain.VariableCombined), reading, DefaultReadingTTL)
			} else {
				require.NotNil(t, reading.Degradation)
				assert.Equal(t, tt.wantKind, reading.Degradation.Kind)
				assert.Equal(t, tt.wantStatus, reading.Degradation.UpstreamStatus)
				assert.NotEmpty(t, reading.Degradation.Message)
				assert.Equal(t, domain.SimulatedRunLabel, reading.UpstreamRunLabel)
				assert.GreaterOrEqual(t, reading.TemperatureCelsius, 17.0)
				assert.LessOrEqual(t, reading.TemperatureCelsius, 27.0)
				cache.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}

			source.AssertExpectations(t)
		})
	}
}

func TestWeatherGateway_CacheHitSkipsUpstream(t *testing.T) {
	source := new(MockObservationSource)
	cache := new(MockReadingCache)
	metrics := new(MockGatewayMetrics)

	cached := domain.WeatherReading{
		TemperatureCelsius: 24,
		HumidityPercent:    55,
		ObservedAt:         fixedNow.Add(-10 * time.Minute),
		Source:             domain.SourceReal,
		Coordinates:        farm,
	}

	cache.On("Get", mock.Anything, domain.NewCacheKey(farm, fixedNow, domain.VariableCombined)).Return(cached, true)
	metrics.On("RecordCacheHit", mock.Anything).Return()

	reading := newTestGateway(source, cache, WithMetrics(metrics)).GetReading(context.Background(), farm)

	assert.Equal(t, cached, reading)
	source.AssertNotCalled(t, "FetchObservation", mock.Anything, mock.Anything, mock.Anything)
	metrics.AssertExpectations(t)
}

func TestWeatherGateway_SecondLookupWithinTTLHitsCache(t *testing.T) {
	now := fixedNow
	clock := func() time.Time { return now }

	source := new(MockObservationSource)
	source.On("FetchObservation", mock.Anything, farm, mock.Anything).Return(&ports.Observation{
		Temperature:     domain.Temperature{Value: 25.3, Unit: domain.Celsius},
		HumidityPercent: 61,
		RunLabel:        "2025-03-14",
	}, nil)

	gateway := newTestGateway(source, newMapCache(clock), WithGatewayClock(clock))

	first := gateway.GetReading(context.Background(), farm)

	now = fixedNow.Add(29 * time.Minute)
	second := gateway.GetReading(context.Background(), farm)

	assert.Equal(t, domain.SourceReal, first.Source)
	assert.Equal(t, first, second)
	source.AssertNumberOfCalls(t, "FetchObservation", 1)

	now = fixedNow.Add(30 * time.Minute)
	gateway.GetReading(context.Background(), farm)

	source.AssertNumberOfCalls(t, "FetchObservation", 2)
}

func TestWeatherGateway_SimulatedReadingsAreNotCached(t *testing.T) {
	source := new(MockObservationSource)
	source.On("FetchObservation", mock.Anything, farm, fixedNow).Return(nil, domain.NewNetworkFailure(errors.New("connection refused")))

	gateway := newTestGateway(source, newMapCache(fixedClock))

	for i := 0; i < 3; i++ {
		reading := gateway.GetReading(context.Background(), farm)
		assert.True(t, reading.IsSimulated())
	}

	source.AssertNumberOfCalls(t, "FetchObservation", 3)
}

func TestWeatherGateway_RecordsMetricsAndLookups(t *testing.T) {
	source := new(MockObservationSource)
	metrics := new(MockGatewayMetrics)
	lookups := new(MockLookupRepository)

	source.On("FetchObservation", mock.Anything, farm, fixedNow).Return(nil,
		domain.NewUpstreamFailure("rejected", domain.Attempt{Credential: "oauth", StatusCode: 500}))

	metrics.On("RecordCacheMiss", mock.Anything).Return()
	metrics.On("RecordReading", mock.Anything, domain.SourceSimulated, domain.KindUpstream).Return()

	lookups.On("LogLookup", mock.Anything, mock.MatchedBy(func(r ports.LookupRecord) bool {
		return r.Source == domain.SourceSimulated &&
			r.ErrorKind == domain.KindUpstream &&
			r.UpstreamStatus == 500 &&
			!r.CacheHit &&
			r.Latitude == farm.Latitude
	})).Return(errors.New("database unavailable"))

	gateway := newTestGateway(source, newMapCache(fixedClock), WithMetrics(metrics), WithLookupRepository(lookups))

	reading := gateway.GetReading(context.Background(), farm)
	gateway.Wait()

	assert.True(t, reading.IsSimulated())
	metrics.AssertExpectations(t)
	lookups.AssertExpectations(t)
}

// stalledLookupRepository blocks every write until its context ends.
type stalledLookupRepository struct {
	errs chan error
}

func (r *stalledLookupRepository) LogLookup(ctx context.Context, _ ports.LookupRecord) error {
	<-ctx.Done()
	r.errs <- ctx.Err()

	return ctx.Err()
}

func (r *stalledLookupRepository) GetLookupStats(context.Context, time.Time) (*ports.LookupStats, error) {
	return &ports.LookupStats{}, nil
}

func TestWeatherGateway_StalledAuditTrailDoesNotDelayReading(t *testing.T) {
	source := new(MockObservationSource)
	source.On("FetchObservation", mock.Anything, farm, fixedNow).Return(nil,
		domain.NewUpstreamFailure("rejected", domain.Attempt{Credential: "oauth", StatusCode: 500}))

	repo := &stalledLookupRepository{errs: make(chan error, 1)}
	gateway := newTestGateway(source, newMapCache(fixedClock),
		WithLookupRepository(repo),
		WithLookupTimeout(100*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan domain.WeatherReading, 1)
	go func() {
		done <- gateway.GetReading(ctx, farm)
	}()

	select {
	case reading := <-done:
		assert.True(t, reading.IsSimulated())
	case <-time.After(time.Second):
		t.Fatal("GetReading blocked on the audit trail write")
	}

	select {
	case err := <-repo.errs:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("audit trail write was not bounded")
	}

	gateway.Wait()
}

func TestWeatherGateway_ClearCache(t *testing.T) {
	t.Run("clears readings and token", func(t *testing.T) {
		cache := new(MockReadingCache)
		tokens := new(MockTokenInvalidator)

		cache.On("Clear", mock.Anything).Return(nil)
		tokens.On("Invalidate").Return()

		err := newTestGateway(new(MockObservationSource), cache, WithTokenInvalidator(tokens)).ClearCache(context.Background())

		assert.NoError(t, err)
		cache.AssertExpectations(t)
		tokens.AssertExpectations(t)
	})

	t.Run("token is dropped even if cache clear fails", func(t *testing.T) {
		cache := new(MockReadingCache)
		tokens := new(MockTokenInvalidator)

		cache.On("Clear", mock.Anything).Return(errors.New("redis down"))
		tokens.On("Invalidate").Return()

		err := newTestGateway(new(MockObservationSource), cache, WithTokenInvalidator(tokens)).ClearCache(context.Background())

		assert.Error(t, err)
		tokens.AssertExpectations(t)
	})

	t.Run("next lookup after clear goes upstream", func(t *testing.T) {
		source := new(MockObservationSource)
		source.On("FetchObservation", mock.Anything, farm, fixedNow).Return(&ports.Observation{
			Temperature:     domain.Temperature{Value: 20, Unit: domain.Celsius},
			HumidityPercent: 50,
		}, nil)

		gateway := newTestGateway(source, newMapCache(fixedClock))

		gateway.GetReading(context.Background(), farm)
		require.NoError(t, gateway.ClearCache(context.Background()))
		gateway.GetReading(context.Background(), farm)

		source.AssertNumberOfCalls(t, "FetchObservation", 2)
	})
}

func TestWeatherGateway_ConcurrentLookups(t *testing.T) {
	source := new(MockObservationSource)
	source.On("FetchObservation", mock.Anything, farm, fixedNow).Return(&ports.Observation{
		Temperature:     domain.Temperature{Value: 25.3, Unit: domain.Celsius},
		HumidityPercent: 61,
	}, nil)

	gateway := newTestGateway(source, newMapCache(fixedClock))

	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			reading := gateway.GetReading(context.Background(), farm)
			assert.Equal(t, domain.SourceReal, reading.Source)
			assert.Equal(t, 25.3, reading.TemperatureCelsius)
		}()
	}

	wg.Wait()
}
