package app

import (
	"context"
	"time"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/ports"
	"github.com/sean-rowe/farm-weather-gateway/internal/infrastructure/database"
	"github.com/sean-rowe/farm-weather-gateway/internal/middleware"
)

// DatabaseAdapter adapts PostgresDB to ports.LookupRepository.
type DatabaseAdapter struct {
	db *database.PostgresDB
}

// NewDatabaseAdapter creates a new database adapter
func NewDatabaseAdapter(db *database.PostgresDB) *DatabaseAdapter {
	return &DatabaseAdapter{db: db}
}

// LogLookup implements ports.LookupRepository. The correlation id is taken
// from the request context when the lookup came through HTTP.
func (d *DatabaseAdapter) LogLookup(ctx context.Context, record ports.LookupRecord) error {
	_, err := d.db.LogLookup(ctx, database.LookupRow{
		CorrelationID:      middleware.GetCorrelationID(ctx),
		Latitude:           record.Latitude,
		Longitude:          record.Longitude,
		TemperatureCelsius: record.TemperatureCelsius,
		HumidityPercent:    record.HumidityPercent,
		Source:             string(record.Source),
		CacheHit:           record.CacheHit,
		ErrorKind:          string(record.ErrorKind),
		UpstreamStatus:     record.UpstreamStatus,
		ErrorMessage:       record.ErrorMessage,
		DurationMs:         record.Duration.Milliseconds(),
	})

	return err
}

// GetLookupStats implements ports.LookupRepository
func (d *DatabaseAdapter) GetLookupStats(ctx context.Context, since time.Time) (*ports.LookupStats, error) {
	stats, err := d.db.GetLookupStats(ctx, since)

	if err != nil {
		return nil, err
	}

	return &ports.LookupStats{
		TotalLookups:      stats.TotalLookups,
		AvgResponseTimeMs: stats.AvgResponseTimeMs,
		MaxResponseTimeMs: stats.MaxResponseTimeMs,
		CacheHitRate:      stats.CacheHitRate,
		SimulatedRate:     stats.SimulatedRate,
	}, nil
}
