package services

import (
	"math"
	"time"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/domain"
)

// Diurnal model parameters. With these values temperature stays within
// [17, 27] °C and humidity within [45, 75] %.
const (
	syntheticMeanTemperature = 22.0
	syntheticTempAmplitude   = 5.0
	syntheticMeanHumidity    = 60.0
	syntheticHumAmplitude    = 15.0
)

// SyntheticGenerator produces a placeholder reading when the upstream is
// unavailable. Output depends only on the hour of day in the configured
// location, so it never fails and needs no network.
type SyntheticGenerator struct {
	location *time.Location
}

// NewSyntheticGenerator creates a generator that reads the hour of day in
// location. A nil location means time.Local.
func NewSyntheticGenerator(location *time.Location) *SyntheticGenerator {
	if location == nil {
		location = time.Local
	}

	return &SyntheticGenerator{location: location}
}

// Generate returns the simulated reading for now.
func (g *SyntheticGenerator) Generate(now time.Time) domain.WeatherReading {
	hour := float64(now.In(g.location).Hour())
	phase := 2 * math.Pi * hour / 24

	return domain.WeatherReading{
		TemperatureCelsius: syntheticMeanTemperature + syntheticTempAmplitude*math.Sin(phase),
		HumidityPercent:    syntheticMeanHumidity - syntheticHumAmplitude*math.Cos(phase),
		ObservedAt:         now,
		Source:             domain.SourceSimulated,
		UpstreamRunLabel:   domain.SimulatedRunLabel,
	}
}
