// Package database stores the weather lookup audit trail in PostgreSQL.
// The schema is managed by the embedded golang-migrate migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// QueryObserver receives the duration of every query.
type QueryObserver func(ctx context.Context, operation string, duration time.Duration, err error)

// PostgresDB is the audit trail store.
type PostgresDB struct {
	db       *sql.DB
	observer QueryObserver
	logger   *zap.Logger
}

// Config holds connection and pool settings.
type Config struct {
	Host                  string
	Port                  int
	User                  string
	Password              string
	Database              string
	SSLMode               string
	MaxConnections        int
	MaxIdleConnections    int
	ConnectionMaxLifetime time.Duration
}

// DSN renders cfg as a lib/pq connection URL.
func (c Config) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}

	return u.String()
}

// Open opens a pool and verifies it with a ping.
//
// Parameters:
//   - ctx: Context bounding the connectivity check
//   - cfg: Connection configuration
//
// Returns:
//   - *sql.DB: Connection pool
//   - error: Open or ping failure
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnectionMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// NewPostgresDB wraps an open pool.
func NewPostgresDB(db *sql.DB, logger *zap.Logger) *PostgresDB {
	return &PostgresDB{
		db:     db,
		logger: logger,
	}
}

// SetQueryObserver installs a hook called after every query.
func (p *PostgresDB) SetQueryObserver(observer QueryObserver) {
	p.observer = observer
}

// LookupRow is one row of weather_lookups.
type LookupRow struct {
	CorrelationID      string
	Latitude           float64
	Longitude          float64
	TemperatureCelsius float64
	HumidityPercent    float64
	Source             string
	CacheHit           bool
	ErrorKind          string
	UpstreamStatus     int
	ErrorMessage       string
	DurationMs         int64
}

// LogLookup inserts row and returns its generated id.
func (p *PostgresDB) LogLookup(ctx context.Context, row LookupRow) (uuid.UUID, error) {
	ctx, span := otel.Tracer("database").Start(ctx, "LogLookup")
	defer span.End()

	id := uuid.New()

	span.SetAttributes(
		attribute.String("lookup.id", id.String()),
		attribute.String("lookup.source", row.Source),
		attribute.Bool("lookup.cache_hit", row.CacheHit),
	)

	const query = `
		INSERT INTO weather_lookups (
			id, correlation_id, latitude, longitude, temperature_celsius, humidity_percent,
			source, cache_hit, error_kind, upstream_status, error_message, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	start := time.Now()

	_, err := p.db.ExecContext(ctx, query,
		id,
		nullString(row.CorrelationID),
		row.Latitude,
		row.Longitude,
		row.TemperatureCelsius,
		row.HumidityPercent,
		row.Source,
		row.CacheHit,
		nullString(row.ErrorKind),
		nullInt(row.UpstreamStatus),
		nullString(row.ErrorMessage),
		row.DurationMs,
	)

	p.observe(ctx, "log_lookup", time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		return uuid.Nil, fmt.Errorf("failed to insert weather lookup: %w", err)
	}

	return id, nil
}

// LookupStats aggregates weather_lookups since a point in time.
type LookupStats struct {
	TotalLookups      int
	AvgResponseTimeMs float64
	MaxResponseTimeMs int64
	CacheHitRate      float64
	SimulatedRate     float64
}

// GetLookupStats aggregates every lookup recorded at or after since.
func (p *PostgresDB) GetLookupStats(ctx context.Context, since time.Time) (*LookupStats, error) {
	ctx, span := otel.Tracer("database").Start(ctx, "GetLookupStats")
	defer span.End()

	const query = `
		SELECT
			COUNT(*),
			AVG(duration_ms),
			MAX(duration_ms),
			AVG(CASE WHEN cache_hit THEN 1.0 ELSE 0.0 END),
			AVG(CASE WHEN source = 'Simulated' THEN 1.0 ELSE 0.0 END)
		FROM weather_lookups
		WHERE requested_at >= $1
	`

	var (
		stats     LookupStats
		avg       sql.NullFloat64
		maxMs     sql.NullInt64
		hitRate   sql.NullFloat64
		simulated sql.NullFloat64
	)

	start := time.Now()

	err := p.db.QueryRowContext(ctx, query, since).Scan(&stats.TotalLookups, &avg, &maxMs, &hitRate, &simulated)

	p.observe(ctx, "lookup_stats", time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to aggregate weather lookups: %w", err)
	}

	stats.AvgResponseTimeMs = avg.Float64
	stats.MaxResponseTimeMs = maxMs.Int64
	stats.CacheHitRate = hitRate.Float64
	stats.SimulatedRate = simulated.Float64

	return &stats, nil
}

// Ping checks connectivity.
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// DB exposes the pool for migrations.
func (p *PostgresDB) DB() *sql.DB {
	return p.db
}

// Close closes the pool.
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

func (p *PostgresDB) observe(ctx context.Context, operation string, duration time.Duration, err error) {
	if err != nil {
		p.logger.Error("database query failed",
			zap.String("operation", operation),
			zap.Duration("duration", duration),
			zap.Error(err))
	}

	if p.observer != nil {
		p.observer(ctx, operation, duration, err)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
