// Package config loads the gateway configuration from an optional .env file,
// an optional YAML file and environment variables, in increasing order of
// precedence, and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/domain"
)

// Config holds all configuration settings for the gateway.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Embrapa        EmbrapaConfig        `mapstructure:"embrapa"`
	Weather        WeatherConfig        `mapstructure:"weather"`
	Location       LocationConfig       `mapstructure:"location"`
	Prefetch       PrefetchConfig       `mapstructure:"prefetch"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Database       DatabaseConfig       `mapstructure:"database"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Telemetry      TelemetryConfig      `mapstructure:"telemetry"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required,numeric"`
	Environment     string        `mapstructure:"environment" validate:"oneof=development staging production test"`
	FrontendURL     []string      `mapstructure:"frontend_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// EmbrapaConfig describes the upstream meteorological API and its credentials.
// Empty credentials are valid and select a degraded credential mode.
type EmbrapaConfig struct {
	TokenURL        string        `mapstructure:"token_url" validate:"required,url"`
	APIURL          string        `mapstructure:"api_url" validate:"required,url"`
	ConsumerKey     string        `mapstructure:"consumer_key"`
	ConsumerSecret  string        `mapstructure:"consumer_secret"`
	PresharedToken  string        `mapstructure:"preshared_token"`
	TemperatureUnit string        `mapstructure:"temperature_unit" validate:"oneof=celsius kelvin fahrenheit"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// Unit returns the unit the upstream reports temperatures in.
func (c EmbrapaConfig) Unit() domain.TemperatureUnit {
	unit, err := domain.ParseTemperatureUnit(c.TemperatureUnit)
	if err != nil {
		return domain.Celsius
	}

	return unit
}

// WeatherConfig controls the reading cache and the synthetic generator.
type WeatherConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
	Timezone string        `mapstructure:"timezone" validate:"required"`
}

// Location loads the configured time zone.
func (c WeatherConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// LocationConfig is the fixed farm location used when a request has no coordinates.
type LocationConfig struct {
	Latitude  float64 `mapstructure:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `mapstructure:"longitude" validate:"gte=-180,lte=180"`
	Name      string  `mapstructure:"name"`
}

// Farm returns the location as a domain value.
func (c LocationConfig) Farm() domain.Location {
	return domain.Location{
		Coordinates: domain.Coordinates{Latitude: c.Latitude, Longitude: c.Longitude},
		Name:        c.Name,
	}
}

// PrefetchConfig controls the cache warming job; a zero interval disables it.
type PrefetchConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// RedisConfig contains settings for the shared cache and rate limiter.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"gte=0"`
	PoolSize     int           `mapstructure:"pool_size" validate:"gt=0"`
	MinIdleConns int           `mapstructure:"min_idle_conns" validate:"gte=0"`
	MaxRetries   int           `mapstructure:"max_retries" validate:"gte=0"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// DatabaseConfig contains PostgreSQL settings for the lookup audit trail.
type DatabaseConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	Host                  string        `mapstructure:"host" validate:"required_if=Enabled true"`
	Port                  int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	Name                  string        `mapstructure:"name" validate:"required_if=Enabled true"`
	SSLMode               string        `mapstructure:"sslmode" validate:"oneof=disable require verify-ca verify-full"`
	MaxConnections        int           `mapstructure:"max_connections" validate:"gt=0"`
	MaxIdleConnections    int           `mapstructure:"max_idle_connections" validate:"gte=0"`
	ConnectionMaxLifetime time.Duration `mapstructure:"connection_max_lifetime"`
	AutoMigrate           bool          `mapstructure:"auto_migrate"`
}

// RateLimitConfig limits weather requests per client IP.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests" validate:"gt=0"`
	Window   time.Duration `mapstructure:"window" validate:"gt=0"`
}

// CircuitBreakerConfig controls the breaker around the upstream fetch.
type CircuitBreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests" validate:"gt=0"`
	Interval     time.Duration `mapstructure:"interval" validate:"gte=0"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MinRequests  uint32        `mapstructure:"min_requests" validate:"gt=0"`
	FailureRatio float64       `mapstructure:"failure_ratio" validate:"gt=0,lte=1"`
}

// TelemetryConfig contains tracing and metrics settings.
type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name" validate:"required"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// envAliases binds keys to the unprefixed variable names used by container
// platforms and by the dashboard deployment.
var envAliases = map[string][]string{
	"server.port":             {"SERVER_PORT", "PORT"},
	"server.environment":      {"SERVER_ENVIRONMENT", "ENVIRONMENT"},
	"server.frontend_url":     {"SERVER_FRONTEND_URL", "FRONTEND_URL"},
	"prefetch.interval":       {"PREFETCH_INTERVAL"},
	"database.host":           {"DATABASE_HOST", "DB_HOST"},
	"database.port":           {"DATABASE_PORT", "DB_PORT"},
	"database.user":           {"DATABASE_USER", "DB_USER"},
	"database.password":       {"DATABASE_PASSWORD", "DB_PASSWORD"},
	"database.name":           {"DATABASE_NAME", "DB_NAME"},
	"database.sslmode":        {"DATABASE_SSLMODE", "DB_SSLMODE"},
	"telemetry.otlp_endpoint": {"TELEMETRY_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"},
}

func setDefaults(vip *viper.Viper) {
	vip.SetDefault("server.port", "8080")
	vip.SetDefault("server.environment", "production")
	vip.SetDefault("server.frontend_url", []string{"http://localhost:3000"})
	vip.SetDefault("server.read_timeout", 15*time.Second)
	vip.SetDefault("server.write_timeout", 30*time.Second)
	vip.SetDefault("server.idle_timeout", 60*time.Second)
	vip.SetDefault("server.shutdown_timeout", 10*time.Second)

	vip.SetDefault("embrapa.token_url", "https://api.cnptia.embrapa.br/token")
	vip.SetDefault("embrapa.api_url", "https://api.cnptia.embrapa.br/climapi/v1")
	vip.SetDefault("embrapa.consumer_key", "")
	vip.SetDefault("embrapa.consumer_secret", "")
	vip.SetDefault("embrapa.preshared_token", "")
	vip.SetDefault("embrapa.temperature_unit", "celsius")
	vip.SetDefault("embrapa.timeout", 10*time.Second)

	vip.SetDefault("weather.cache_ttl", 30*time.Minute)
	vip.SetDefault("weather.timezone", "Local")

	vip.SetDefault("location.latitude", -23.5505)
	vip.SetDefault("location.longitude", -46.6333)
	vip.SetDefault("location.name", "São Paulo, SP")

	vip.SetDefault("prefetch.interval", time.Duration(0))

	vip.SetDefault("redis.enabled", false)
	vip.SetDefault("redis.addr", "localhost:6379")
	vip.SetDefault("redis.password", "")
	vip.SetDefault("redis.db", 0)
	vip.SetDefault("redis.pool_size", 10)
	vip.SetDefault("redis.min_idle_conns", 2)
	vip.SetDefault("redis.max_retries", 3)
	vip.SetDefault("redis.dial_timeout", 5*time.Second)
	vip.SetDefault("redis.read_timeout", 3*time.Second)
	vip.SetDefault("redis.write_timeout", 3*time.Second)
	vip.SetDefault("redis.key_prefix", "farm-weather:")

	vip.SetDefault("database.enabled", false)
	vip.SetDefault("database.host", "localhost")
	vip.SetDefault("database.port", 5432)
	vip.SetDefault("database.user", "farm")
	vip.SetDefault("database.password", "")
	vip.SetDefault("database.name", "farm_weather")
	vip.SetDefault("database.sslmode", "disable")
	vip.SetDefault("database.max_connections", 10)
	vip.SetDefault("database.max_idle_connections", 2)
	vip.SetDefault("database.connection_max_lifetime", 5*time.Minute)
	vip.SetDefault("database.auto_migrate", true)

	vip.SetDefault("rate_limit.requests", 100)
	vip.SetDefault("rate_limit.window", 15*time.Minute)

	vip.SetDefault("circuit_breaker.max_requests", 1)
	vip.SetDefault("circuit_breaker.interval", time.Minute)
	vip.SetDefault("circuit_breaker.timeout", 30*time.Second)
	vip.SetDefault("circuit_breaker.min_requests", 5)
	vip.SetDefault("circuit_breaker.failure_ratio", 0.6)

	vip.SetDefault("telemetry.enabled", true)
	vip.SetDefault("telemetry.service_name", "farm-weather-gateway")
	vip.SetDefault("telemetry.otlp_endpoint", "")
	vip.SetDefault("telemetry.sample_rate", 0.1)
}

// Load reads configuration. path names an optional YAML file; when empty,
// config.yaml is looked up in ./configs and the working directory.
//
// Parameters:
//   - path: Explicit config file path, or ""
//
// Returns:
//   - *Config: Validated configuration
//   - error: Unreadable file, undecodable value or failed validation
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	vip := viper.New()

	if path != "" {
		vip.SetConfigFile(path)
	} else {
		vip.SetConfigName("config")
		vip.AddConfigPath("./configs")
		vip.AddConfigPath(".")
	}

	vip.SetConfigType("yaml")
	vip.AutomaticEnv()
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(vip)

	for key, names := range envAliases {
		if err := vip.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if _, err := cfg.Weather.Location(); err != nil {
		return nil, fmt.Errorf("invalid weather timezone %q: %w", cfg.Weather.Timezone, err)
	}

	return &cfg, nil
}

func (c *Config) normalize() {
	c.Embrapa.TemperatureUnit = strings.ToLower(strings.TrimSpace(c.Embrapa.TemperatureUnit))
	c.Embrapa.ConsumerKey = strings.TrimSpace(c.Embrapa.ConsumerKey)
	c.Embrapa.ConsumerSecret = strings.TrimSpace(c.Embrapa.ConsumerSecret)
	c.Embrapa.PresharedToken = strings.TrimSpace(c.Embrapa.PresharedToken)

	var origins []string

	for _, entry := range c.Server.FrontendURL {
		for _, origin := range strings.Split(entry, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
	}

	c.Server.FrontendURL = origins
}
