package app

import (
	"context"
	"errors"
	"time"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/domain"
	"github.com/sean-rowe/farm-weather-gateway/internal/core/ports"
	"github.com/sean-rowe/farm-weather-gateway/internal/infrastructure/circuitbreaker"
)

// CircuitBreakerSource wraps an observation source with circuit breaker
// protection. Both variables of one observation run inside a single call, so
// the breaker counts lookups rather than individual upstream requests.
type CircuitBreakerSource struct {
	source ports.ObservationSource
	cb     *circuitbreaker.Breaker
}

// NewCircuitBreakerSource wraps source with cb.
func NewCircuitBreakerSource(source ports.ObservationSource, cb *circuitbreaker.Breaker) *CircuitBreakerSource {
	return &CircuitBreakerSource{
		source: source,
		cb:     cb,
	}
}

// FetchObservation fetches through the breaker. A rejected call is reported
// as an upstream failure so the gateway degrades without waiting on the network.
func (c *CircuitBreakerSource) FetchObservation(ctx context.Context, coords domain.Coordinates, date time.Time) (*ports.Observation, error) {
	var result *ports.Observation

	err := c.cb.Execute(ctx, "fetch-observation", func(ctx context.Context) error {
		var err error
		result, err = c.source.FetchObservation(ctx, coords, date)

		return err
	})

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, domain.NewUpstreamFailure(circuitbreaker.ErrOpen.Error())
	}

	return result, err
}
