//go:build integration

package database

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type PostgresSuite struct {
	suite.Suite
	store *PostgresDB
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	host := os.Getenv("DB_HOST")
	if host == "" {
		s.T().Skip("DB_HOST not set")
	}

	port, _ := strconv.Atoi(os.Getenv("DB_PORT"))
	if port == 0 {
		port = 5432
	}

	db, err := Open(context.Background(), Config{
		Host:                  host,
		Port:                  port,
		User:                  os.Getenv("DB_USER"),
		Password:              os.Getenv("DB_PASSWORD"),
		Database:              os.Getenv("DB_NAME"),
		SSLMode:               "disable",
		MaxConnections:        4,
		MaxIdleConnections:    2,
		ConnectionMaxLifetime: time.Minute,
	})
	s.Require().NoError(err)

	s.Require().NoError(RunMigrations(db, zap.NewNop()))

	s.store = NewPostgresDB(db, zap.NewNop())
}

func (s *PostgresSuite) SetupTest() {
	_, err := s.store.DB().Exec("TRUNCATE weather_lookups")
	s.Require().NoError(err)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

func (s *PostgresSuite) TestLogLookupAndStats() {
	ctx := context.Background()
	since := time.Now().Add(-time.Minute)

	rows := []LookupRow{
		{Latitude: -23.55, Longitude: -46.63, TemperatureCelsius: 25.3, HumidityPercent: 61, Source: "Real", DurationMs: 120},
		{Latitude: -23.55, Longitude: -46.63, TemperatureCelsius: 25.3, HumidityPercent: 61, Source: "Real", CacheHit: true, DurationMs: 2},
		{Latitude: -23.55, Longitude: -46.63, TemperatureCelsius: 22, HumidityPercent: 60, Source: "Simulated",
			ErrorKind: "UPSTREAM_FAILURE", UpstreamStatus: 401, ErrorMessage: "rejected", DurationMs: 300},
		{Latitude: -23.55, Longitude: -46.63, TemperatureCelsius: 25.3, HumidityPercent: 61, Source: "Real", CacheHit: true, DurationMs: 2},
	}

	for _, row := range rows {
		_, err := s.store.LogLookup(ctx, row)
		s.Require().NoError(err)
	}

	stats, err := s.store.GetLookupStats(ctx, since)
	s.Require().NoError(err)

	s.Equal(4, stats.TotalLookups)
	s.Equal(int64(300), stats.MaxResponseTimeMs)
	s.InDelta(106, stats.AvgResponseTimeMs, 0.01)
	s.InDelta(0.5, stats.CacheHitRate, 0.001)
	s.InDelta(0.25, stats.SimulatedRate, 0.001)
}

func (s *PostgresSuite) TestStatsOnEmptyTable() {
	stats, err := s.store.GetLookupStats(context.Background(), time.Now().Add(-time.Hour))
	s.Require().NoError(err)

	s.Equal(0, stats.TotalLookups)
	s.Zero(stats.AvgResponseTimeMs)
}

func (s *PostgresSuite) TestMigrationVersion() {
	version, dirty, err := Version(s.store.DB())
	s.Require().NoError(err)

	s.False(dirty)
	s.Equal(uint(2), version)
}
