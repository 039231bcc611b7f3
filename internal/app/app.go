// Package app provides application-level coordination and dependency injection.
// It wires configuration into the upstream adapter, caches, the gateway and
// the HTTP router, and manages their lifecycles.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sean-rowe/farm-weather-gateway/internal/adapters/primary/rest"
	"github.com/sean-rowe/farm-weather-gateway/internal/adapters/secondary/embrapa"
	"github.com/sean-rowe/farm-weather-gateway/internal/config"
	"github.com/sean-rowe/farm-weather-gateway/internal/core/ports"
	"github.com/sean-rowe/farm-weather-gateway/internal/core/services"
	"github.com/sean-rowe/farm-weather-gateway/internal/infrastructure/cache"
	"github.com/sean-rowe/farm-weather-gateway/internal/infrastructure/circuitbreaker"
	"github.com/sean-rowe/farm-weather-gateway/internal/infrastructure/database"
	"github.com/sean-rowe/farm-weather-gateway/internal/infrastructure/ratelimit"
	"github.com/sean-rowe/farm-weather-gateway/internal/middleware"
	"github.com/sean-rowe/farm-weather-gateway/internal/observability"
	"github.com/sean-rowe/farm-weather-gateway/internal/scheduler"
	"github.com/sean-rowe/farm-weather-gateway/internal/version"
)

const (
	upstreamBreakerName = "embrapa-climapi"

	// statsWindow is the period aggregated by /stats.
	statsWindow = 24 * time.Hour
)

// App manages the application lifecycle and dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	server     *http.Server
	handler    http.Handler
	telemetry  *observability.Telemetry
	db         *database.PostgresDB
	redis      *redis.Client
	memLimiter *middleware.MemoryRateLimiter
	prefetcher *scheduler.Prefetcher

	breakers     *circuitbreaker.Manager
	credentials  *embrapa.CredentialStore
	tokens       *embrapa.TokenManager
	gateway      *services.WeatherGateway
	cacheBackend string
}

// New creates a new application instance. Nothing is connected until Init.
//
// Parameters:
//   - cfg: Loaded configuration
//   - logger: Zap logger shared by every component
//
// Returns:
//   - *App: Application instance
func New(cfg *config.Config, logger *zap.Logger) *App {
	return &App{
		cfg:      cfg,
		logger:   logger,
		breakers: circuitbreaker.NewManager(logger),
	}
}

// NewLogger builds the process logger: development output for the
// development environment, JSON otherwise.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}

// Init connects optional backends and builds the gateway and router.
// Telemetry, Redis and PostgreSQL failures are logged and the app continues
// without them.
//
// Parameters:
//   - ctx: Context for initialization
//
// Returns:
//   - error: Reserved for unrecoverable wiring failures
func (a *App) Init(ctx context.Context) error {
	if a.cfg.Telemetry.Enabled {
		if err := a.initTelemetry(ctx); err != nil {
			a.logger.Warn("failed to initialize telemetry, continuing without it", zap.Error(err))
		}
	}

	cacheService, rateLimitService := a.initRedisServices(ctx)

	if err := a.initDatabase(ctx); err != nil {
		a.logger.Warn("failed to connect to database, continuing without it", zap.Error(err))
	}

	a.gateway = a.initGateway(cacheService)

	weatherHandler := rest.NewWeatherHandler(a.gateway, a.cfg.Location.Farm(), a.logger)

	rateLimitMiddleware := middleware.NewRateLimitMiddleware(
		rateLimitService,
		a.cfg.RateLimit.Requests,
		a.cfg.RateLimit.Window,
		a.logger,
	)

	a.handler = a.setupRouter(weatherHandler, rateLimitMiddleware)

	return nil
}

// Start initializes all components, starts the HTTP server and the
// optional prefetch job.
//
// Parameters:
//   - ctx: Context for initialization
//
// Returns:
//   - error: Initialization or scheduler error
func (a *App) Start(ctx context.Context) error {
	if err := a.Init(ctx); err != nil {
		return err
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%s", a.cfg.Server.Port),
		Handler:      a.handler,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	go func() {
		a.logger.Info("starting HTTP server",
			zap.String("port", a.cfg.Server.Port),
			zap.String("version", version.Version),
			zap.String("credentials_mode", a.credentials.Mode()))

		if err := a.server.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				a.logger.Fatal("failed to start server", zap.Error(err))
			}
		}
	}()

	if a.cfg.Prefetch.Interval > 0 {
		a.prefetcher = scheduler.NewPrefetcher(a.gateway, a.cfg.Location.Farm(), a.cfg.Prefetch.Interval, a.logger)

		if err := a.prefetcher.Start(); err != nil {
			return fmt.Errorf("failed to start prefetch job: %w", err)
		}
	}

	return nil
}

// Gateway returns the wired gateway; valid after Init.
func (a *App) Gateway() ports.WeatherGateway {
	return a.gateway
}

// Handler returns the HTTP router; valid after Init.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Stop gracefully shuts down all application components.
func (a *App) Stop() {
	a.logger.Info("shutting down application...")

	if a.prefetcher != nil {
		a.prefetcher.Stop()
	}

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to shutdown server gracefully", zap.Error(err))
		}
	}

	if a.gateway != nil {
		a.gateway.Wait()
	}

	if a.memLimiter != nil {
		a.memLimiter.Close()
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("failed to close redis connection", zap.Error(err))
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close database connection", zap.Error(err))
		}
	}

	if a.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to shutdown telemetry", zap.Error(err))
		}
	}

	// Sync fails on some platforms when stderr is a terminal
	_ = a.logger.Sync()
}

// WaitForShutdown blocks until ctx is done or the process receives
// SIGINT or SIGTERM.
func (a *App) WaitForShutdown(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	a.logger.Info("shutdown signal received")
}

// initTelemetry initializes OpenTelemetry providers.
func (a *App) initTelemetry(ctx context.Context) error {
	telemetryConfig := observability.Config{
		ServiceName:    a.cfg.Telemetry.ServiceName,
		ServiceVersion: version.Version,
		Environment:    a.cfg.Server.Environment,
		OTLPEndpoint:   a.cfg.Telemetry.OTLPEndpoint,
		SampleRate:     a.cfg.Telemetry.SampleRate,
	}

	var err error
	a.telemetry, err = observability.InitTelemetry(ctx, telemetryConfig, a.logger)

	return err
}

// initRedisServices initializes Redis-based or memory-based cache and rate limiting.
//
// Parameters:
//   - ctx: Context for Redis connection testing
//
// Returns:
//   - ports.CacheService: Cache implementation (Redis or memory)
//   - ports.RateLimitService: Rate limiter implementation (Redis or memory)
func (a *App) initRedisServices(ctx context.Context) (ports.CacheService, ports.RateLimitService) {
	if !a.cfg.Redis.Enabled {
		a.logger.Info("Redis disabled, using memory-based services")
		return a.memoryServices()
	}

	client, err := cache.NewRedisClient(ctx, cache.Config{
		Addr:         a.cfg.Redis.Addr,
		Password:     a.cfg.Redis.Password,
		DB:           a.cfg.Redis.DB,
		PoolSize:     a.cfg.Redis.PoolSize,
		MinIdleConns: a.cfg.Redis.MinIdleConns,
		MaxRetries:   a.cfg.Redis.MaxRetries,
		DialTimeout:  a.cfg.Redis.DialTimeout,
		ReadTimeout:  a.cfg.Redis.ReadTimeout,
		WriteTimeout: a.cfg.Redis.WriteTimeout,
	})

	if err != nil {
		a.logger.Warn("Redis connection failed, falling back to memory-based services", zap.Error(err))
		return a.memoryServices()
	}

	a.logger.Info("Redis connected successfully", zap.String("addr", a.cfg.Redis.Addr))

	a.redis = client
	a.cacheBackend = "redis"

	prefix := a.cfg.Redis.KeyPrefix

	return cache.NewRedisCache(client, prefix+"cache:", a.logger),
		ratelimit.NewRedisRateLimiter(client, prefix+"ratelimit:", a.logger)
}

func (a *App) memoryServices() (ports.CacheService, ports.RateLimitService) {
	a.cacheBackend = "memory"
	a.memLimiter = middleware.NewMemoryRateLimiter(a.logger)

	return cache.NewMemoryCache(a.cfg.Weather.CacheTTL, 10*time.Minute, a.logger), a.memLimiter
}

// initDatabase connects the lookup audit trail and applies migrations.
// Migrations run on a short-lived pool because the migrate driver pins a
// connection for its lifetime.
func (a *App) initDatabase(ctx context.Context) error {
	if !a.cfg.Database.Enabled {
		return nil
	}

	dbConfig := DatabaseConfig(a.cfg)

	if a.cfg.Database.AutoMigrate {
		migrationDB, err := database.Open(ctx, dbConfig)

		if err != nil {
			return err
		}

		err = database.RunMigrations(migrationDB, a.logger)
		_ = migrationDB.Close()

		if err != nil {
			return err
		}
	}

	db, err := database.Open(ctx, dbConfig)

	if err != nil {
		return err
	}

	a.db = database.NewPostgresDB(db, a.logger)

	if a.telemetry != nil {
		a.db.SetQueryObserver(a.telemetry.RecordDBQuery)
	}

	a.logger.Info("database connected",
		zap.String("host", dbConfig.Host),
		zap.String("database", dbConfig.Database))

	return nil
}

// DatabaseConfig maps the application configuration onto the database package.
func DatabaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		Host:                  cfg.Database.Host,
		Port:                  cfg.Database.Port,
		User:                  cfg.Database.User,
		Password:              cfg.Database.Password,
		Database:              cfg.Database.Name,
		SSLMode:               cfg.Database.SSLMode,
		MaxConnections:        cfg.Database.MaxConnections,
		MaxIdleConnections:    cfg.Database.MaxIdleConnections,
		ConnectionMaxLifetime: cfg.Database.ConnectionMaxLifetime,
	}
}

// initObservationSource builds the ClimAPI client: credential store, token
// manager, pre-shared/OAuth fallback and a circuit breaker around the whole
// observation fetch.
func (a *App) initObservationSource() ports.ObservationSource {
	timeout := a.cfg.Embrapa.Timeout
	httpClient := &http.Client{Timeout: timeout}

	a.credentials = embrapa.NewCredentialStore(
		a.cfg.Embrapa.ConsumerKey,
		a.cfg.Embrapa.ConsumerSecret,
		a.cfg.Embrapa.PresharedToken,
	)

	a.tokens = embrapa.NewTokenManager(
		a.cfg.Embrapa.TokenURL,
		a.credentials,
		httpClient,
		a.logger,
		embrapa.WithExchangeTimeout(timeout),
	)

	fetcher := embrapa.NewFetcher(httpClient, timeout, a.logger)
	strategy := embrapa.NewFallbackAuthStrategy(a.credentials, fetcher, a.tokens, a.logger)
	client := embrapa.NewClient(a.cfg.Embrapa.APIURL, strategy, a.cfg.Embrapa.Unit(), a.logger)

	a.logger.Info("upstream configured",
		zap.String("api_url", a.cfg.Embrapa.APIURL),
		zap.String("credentials_mode", a.credentials.Mode()),
		zap.String("temperature_unit", string(a.cfg.Embrapa.Unit())))

	breaker := a.breakers.GetBreaker(upstreamBreakerName, circuitbreaker.Config{
		MaxRequests:  a.cfg.CircuitBreaker.MaxRequests,
		Interval:     a.cfg.CircuitBreaker.Interval,
		Timeout:      a.cfg.CircuitBreaker.Timeout,
		MinRequests:  a.cfg.CircuitBreaker.MinRequests,
		FailureRatio: a.cfg.CircuitBreaker.FailureRatio,
	})

	return NewCircuitBreakerSource(client, breaker)
}

func (a *App) initGateway(cacheService ports.CacheService) *services.WeatherGateway {
	source := a.initObservationSource()

	location, err := a.cfg.Weather.Location()

	if err != nil {
		a.logger.Warn("invalid weather timezone, using local time",
			zap.String("timezone", a.cfg.Weather.Timezone),
			zap.Error(err))

		location = time.Local
	}

	opts := []services.GatewayOption{
		services.WithReadingTTL(a.cfg.Weather.CacheTTL),
		services.WithTokenInvalidator(a.tokens),
	}

	if a.telemetry != nil {
		opts = append(opts, services.WithMetrics(a.telemetry))
	}

	if a.db != nil {
		opts = append(opts, services.WithLookupRepository(NewDatabaseAdapter(a.db)))
	}

	return services.NewWeatherGateway(
		source,
		cache.NewResponseCache(cacheService, a.logger),
		services.NewSyntheticGenerator(location),
		a.logger,
		opts...,
	)
}

// setupRouter creates and configures the HTTP router with all middleware.
//
// Parameters:
//   - weatherHandler: Handler for weather endpoints
//   - rateLimitMiddleware: Rate-limiting middleware instance
//
// Returns:
//   - http.Handler: Configured router with all routes and middleware
func (a *App) setupRouter(
	weatherHandler *rest.WeatherHandler,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
) http.Handler {
	router := mux.NewRouter()

	var recorder middleware.RequestRecorder
	if a.telemetry != nil {
		recorder = a.telemetry
	}

	obsMiddleware := middleware.NewObservabilityMiddleware(recorder, a.logger)
	router.Use(obsMiddleware.RecoveryMiddleware)
	router.Use(obsMiddleware.TracingMiddleware)
	router.Use(obsMiddleware.MetricsMiddleware)
	router.Use(obsMiddleware.LoggingMiddleware)

	router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/health/live", a.handleLive).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", a.handleReady).Methods(http.MethodGet)
	router.HandleFunc("/version", a.handleVersion).Methods(http.MethodGet)
	router.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Weather routes carry CORS and rate limiting; OPTIONS is routed so
	// that preflight requests reach the CORS middleware.
	weather := router.NewRoute().Subrouter()
	weather.Use(middleware.CORS(a.cfg.Server.FrontendURL))
	weather.Use(rateLimitMiddleware.Middleware)

	weather.HandleFunc("/weather", weatherHandler.GetWeather).
		Methods(http.MethodGet, http.MethodOptions)
	weather.HandleFunc("/weather/cache/clear", weatherHandler.ClearCache).
		Methods(http.MethodPost, http.MethodOptions)
	weather.HandleFunc("/api/weather/clear-cache", weatherHandler.ClearCache).
		Methods(http.MethodPost, http.MethodOptions)

	return router
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	breaker := a.breakers.GetStats()[upstreamBreakerName]

	a.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"version":          version.Version,
		"timestamp":        time.Now().UTC(),
		"cache_backend":    a.cacheBackend,
		"credentials_mode": a.credentials.Mode(),
		"circuit_breaker":  breaker.State,
		"database_enabled": a.db != nil,
	})
}

func (a *App) handleLive(w http.ResponseWriter, _ *http.Request) {
	a.respondWithJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReady pings the optional backends. The gateway itself is always able
// to answer, so only configured and connected backends are checked.
func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	status := http.StatusOK

	if a.redis != nil {
		checks["redis"] = "ok"

		if err := a.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	if a.db != nil {
		checks["database"] = "ok"

		if err := a.db.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}

	a.respondWithJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": checks,
	})
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	a.respondWithJSON(w, http.StatusOK, version.Get())
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"circuit_breakers": a.breakers.GetStats(),
		"token":            a.tokens.Status(),
		"credentials_mode": a.credentials.Mode(),
		"cache_backend":    a.cacheBackend,
	}

	if a.db != nil {
		lookups, err := NewDatabaseAdapter(a.db).GetLookupStats(r.Context(), time.Now().Add(-statsWindow))

		if err != nil {
			a.logger.Error("failed to get lookup stats", zap.Error(err))
		} else {
			stats["lookups"] = lookups
		}
	}

	a.respondWithJSON(w, http.StatusOK, stats)
}

func (a *App) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error("failed to encode response", zap.Error(err))
	}
}
