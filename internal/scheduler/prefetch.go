// Package scheduler runs background jobs that keep the reading cache warm.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/domain"
	"github.com/sean-rowe/farm-weather-gateway/internal/core/ports"
)

// Prefetcher periodically requests a reading for one location so that the
// first dashboard request of each period is served from the cache.
type Prefetcher struct {
	scheduler *gocron.Scheduler
	gateway   ports.WeatherGateway
	location  domain.Location
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

// NewPrefetcher creates a prefetcher. Each run is bounded by the smaller of
// interval and one minute.
func NewPrefetcher(gateway ports.WeatherGateway, location domain.Location, interval time.Duration, logger *zap.Logger) *Prefetcher {
	timeout := time.Minute
	if interval > 0 && interval < timeout {
		timeout = interval
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	return &Prefetcher{
		scheduler: s,
		gateway:   gateway,
		location:  location,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
	}
}

// Start schedules the job and runs it once immediately.
func (p *Prefetcher) Start() error {
	if p.interval <= 0 {
		return errors.New("prefetch interval must be positive")
	}

	if _, err := p.scheduler.Every(p.interval).Do(p.run); err != nil {
		return err
	}

	p.scheduler.StartAsync()

	p.logger.Info("weather prefetch scheduled",
		zap.Duration("interval", p.interval),
		zap.String("location", p.location.Name))

	return nil
}

// Stop cancels future runs and waits for a running job to finish.
func (p *Prefetcher) Stop() {
	p.scheduler.Stop()
}

func (p *Prefetcher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	reading := p.gateway.GetReading(ctx, p.location.Coordinates)

	fields := []zap.Field{
		zap.String("source", string(reading.Source)),
		zap.Float64("temperature_celsius", reading.TemperatureCelsius),
		zap.Float64("humidity_percent", reading.HumidityPercent),
	}

	if reading.Degradation != nil {
		fields = append(fields, zap.String("error_kind", string(reading.Degradation.Kind)))
	}

	p.logger.Debug("weather prefetch completed", fields...)
}
