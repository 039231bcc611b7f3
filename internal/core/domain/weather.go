// Package domain contains the core entities of the farm weather gateway.
// These types describe readings, locations and provenance independently of
// the upstream meteorological API and of the HTTP transport.
package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Temperature represents a temperature measurement with its unit.
// Upstream integrations disagree on units, so raw values always travel
// together with the unit they were reported in.
type Temperature struct {
	// Value is the numeric temperature measurement
	Value float64

	// Unit is the scale Value is expressed in
	Unit TemperatureUnit
}

// TemperatureUnit defines the unit of temperature measurement.
type TemperatureUnit string

const (
	// Celsius represents temperature in Celsius scale
	Celsius TemperatureUnit = "C"

	// Fahrenheit represents temperature in Fahrenheit scale
	Fahrenheit TemperatureUnit = "F"

	// Kelvin represents absolute temperature, as reported by some NCEP GFS surface products
	Kelvin TemperatureUnit = "K"
)

// kelvinOffset is the difference between the Kelvin and Celsius zero points.
const kelvinOffset = 273.15

// ParseTemperatureUnit maps a configuration value (celsius, kelvin, fahrenheit
// or their one-letter symbols) to a TemperatureUnit.
func ParseTemperatureUnit(s string) (TemperatureUnit, error) {
	switch s {
	case "celsius", "C", "c":
		return Celsius, nil
	case "kelvin", "K", "k":
		return Kelvin, nil
	case "fahrenheit", "F", "f":
		return Fahrenheit, nil
	default:
		return "", fmt.Errorf("unknown temperature unit %q", s)
	}
}

// Celsius converts the temperature to degrees Celsius.
//
// Returns:
//   - float64: Value expressed in Celsius
//   - error: Unknown unit
func (t Temperature) Celsius() (float64, error) {
	switch t.Unit {
	case Celsius:
		return t.Value, nil
	case Kelvin:
		return t.Value - kelvinOffset, nil
	case Fahrenheit:
		return (t.Value - 32) * 5 / 9, nil
	default:
		return 0, fmt.Errorf("cannot convert unit %q to celsius", t.Unit)
	}
}

// Coordinates represent a geographic location using latitude and longitude.
type Coordinates struct {
	// Latitude specifies the north-south position (-90 to 90 degrees)
	Latitude float64

	// Longitude specifies the east-west position (-180 to 180 degrees)
	Longitude float64
}

// Validate checks if the coordinates are within valid geographic bounds.
func (c Coordinates) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got %f", c.Latitude)
	}

	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got %f", c.Longitude)
	}

	return nil
}

// Location is a named point, used for the fixed farm location.
type Location struct {
	Coordinates Coordinates
	Name        string
}

// Source classifies the provenance of a reading.
type Source string

const (
	// SourceReal marks a reading that came from a successful upstream fetch
	SourceReal Source = "Real"

	// SourceSimulated marks a locally generated reading
	SourceSimulated Source = "Simulated"
)

// SimulatedRunLabel is reported as the upstream run label of synthetic readings.
const SimulatedRunLabel = "SIMULATED"

// WeatherReading is the normalized output unit of the gateway.
// Values are never mutated after construction; the gateway hands out copies.
type WeatherReading struct {
	TemperatureCelsius float64     `json:"temperatureCelsius"`
	HumidityPercent    float64     `json:"humidityPercent"`
	ObservedAt         time.Time   `json:"observedAt"`
	Source             Source      `json:"source"`
	UpstreamRunLabel   string      `json:"upstreamRunLabel,omitempty"`
	Coordinates        Coordinates `json:"coordinates"`

	// Degradation is set only on simulated readings and explains what failed.
	Degradation *Degradation `json:"degradation,omitempty"`
}

// IsSimulated reports whether no upstream fetch contributed to the reading.
func (r WeatherReading) IsSimulated() bool {
	return r.Source == SourceSimulated
}

// Degradation is the informational error attached to a simulated reading.
type Degradation struct {
	Kind           ErrorKind `json:"kind"`
	Message        string    `json:"message"`
	UpstreamStatus int       `json:"upstreamStatus,omitempty"`
}

// VariableCombined identifies the merged temperature and humidity reading in cache keys.
const VariableCombined = "temperature+humidity"

// CacheKey is the fingerprint of one logical upstream query.
// Two requests with the same key are the same query regardless of arrival time.
type CacheKey string

// NewCacheKey derives the key for (latitude, longitude, calendar date, variable).
// The date is taken in UTC so that the key does not depend on the server zone.
func NewCacheKey(coords Coordinates, date time.Time, variable string) CacheKey {
	return CacheKey(fmt.Sprintf("weather:%s:%s:%s:%s",
		strconv.FormatFloat(coords.Latitude, 'f', -1, 64),
		strconv.FormatFloat(coords.Longitude, 'f', -1, 64),
		CalendarDate(date),
		variable,
	))
}

// CalendarDate formats t as the YYYY-MM-DD date the upstream API expects.
func CalendarDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
