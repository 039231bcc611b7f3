package embrapa

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/domain"
	"github.com/sean-rowe/farm-weather-gateway/internal/core/ports"
)

// ClimAPI model and variable identifiers.
const (
	ModelGFS            = "ncep-gfs"
	VariableTemperature = "tmpsfc"
	VariableHumidity    = "rh2m"
)

// AuthorizedFetcher is satisfied by FallbackAuthStrategy.
type AuthorizedFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// sample is one element of a ClimAPI series; the series is newest first.
type sample struct {
	Valor *float64 `json:"valor"`
	Horas *float64 `json:"horas,omitempty"`
}

// Client reads surface temperature and relative humidity from ClimAPI.
type Client struct {
	baseURL  string
	fetcher  AuthorizedFetcher
	tempUnit domain.TemperatureUnit
	logger   *zap.Logger
}

// NewClient creates a ClimAPI client.
//
// Parameters:
//   - baseURL: ClimAPI base URL, e.g. https://api.cnptia.embrapa.br/climapi/v1
//   - fetcher: Credential strategy used for every request
//   - tempUnit: Unit the tmpsfc series is reported in
//   - logger: Zap logger
//
// Returns:
//   - *Client: Configured client
func NewClient(baseURL string, fetcher AuthorizedFetcher, tempUnit domain.TemperatureUnit, logger *zap.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		fetcher:  fetcher,
		tempUnit: tempUnit,
		logger:   logger,
	}
}

// SeriesURL builds /ncep-gfs/{variable}/{date}/{lon}/{lat}. ClimAPI takes
// longitude before latitude.
func (c *Client) SeriesURL(variable, date string, coords domain.Coordinates) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s/%s",
		c.baseURL,
		ModelGFS,
		variable,
		date,
		strconv.FormatFloat(coords.Longitude, 'f', -1, 64),
		strconv.FormatFloat(coords.Latitude, 'f', -1, 64),
	)
}

// FetchObservation fetches temperature and humidity concurrently. Both must
// succeed; the first failure cancels the other request.
func (c *Client) FetchObservation(ctx context.Context, coords domain.Coordinates, date time.Time) (*ports.Observation, error) {
	day := domain.CalendarDate(date)

	var temperature, humidity float64

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		v, err := c.latest(gctx, VariableTemperature, day, coords)
		if err != nil {
			return fmt.Errorf("temperature: %w", err)
		}

		temperature = v

		return nil
	})

	g.Go(func() error {
		v, err := c.latest(gctx, VariableHumidity, day, coords)
		if err != nil {
			return fmt.Errorf("humidity: %w", err)
		}

		humidity = v

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &ports.Observation{
		Temperature:     domain.Temperature{Value: temperature, Unit: c.tempUnit},
		HumidityPercent: humidity,
		RunLabel:        day,
	}, nil
}

// latest returns array[0].valor of a series.
func (c *Client) latest(ctx context.Context, variable, day string, coords domain.Coordinates) (float64, error) {
	body, err := c.fetcher.Fetch(ctx, c.SeriesURL(variable, day, coords))

	if err != nil {
		return 0, err
	}

	var series []sample

	if err := json.Unmarshal(body, &series); err != nil {
		return 0, domain.NewNormalizationFailure(fmt.Sprintf("%s: payload is not a sample array", variable), err)
	}

	if len(series) == 0 {
		return 0, domain.NewNormalizationFailure(fmt.Sprintf("%s: empty sample array", variable), nil)
	}

	if series[0].Valor == nil {
		return 0, domain.NewNormalizationFailure(fmt.Sprintf("%s: newest sample has no valor", variable), nil)
	}

	c.logger.Debug("upstream sample received",
		zap.String("variable", variable),
		zap.String("date", day),
		zap.Float64("valor", *series[0].Valor),
		zap.Int("samples", len(series)))

	return *series[0].Valor, nil
}
