// Package rest implements HTTP handlers for the weather gateway endpoints.
// This package serves as the primary adapter, translating HTTP requests
// into gateway operations and formatting responses for the farm dashboard.
package rest

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/domain"
	"github.com/sean-rowe/farm-weather-gateway/internal/core/ports"
	"github.com/sean-rowe/farm-weather-gateway/internal/middleware"
)

// timestampLayout is ISO 8601 with millisecond precision, as the dashboard expects.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// customLocationName labels readings for coordinates other than the farm.
const customLocationName = "Localização personalizada"

// WeatherHandler handles HTTP requests for weather readings.
// It acts as the primary adapter between HTTP transport and the gateway,
// managing request parsing, validation, and response formatting.
type WeatherHandler struct {
	// gateway provides readings; it never fails for valid coordinates
	gateway ports.WeatherGateway

	// farm is used when a request carries no coordinates
	farm domain.Location

	now    func() time.Time
	logger *zap.Logger
}

// NewWeatherHandler creates a new HTTP handler for weather operations.
//
// Parameters:
//   - gateway: Gateway providing readings and cache control
//   - farm: Default location for requests without coordinates
//   - logger: Zap logger for request logging and error tracking
//
// Returns:
//   - *WeatherHandler: Configured handler instance
func NewWeatherHandler(gateway ports.WeatherGateway, farm domain.Location, logger *zap.Logger) *WeatherHandler {
	return &WeatherHandler{
		gateway: gateway,
		farm:    farm,
		now:     time.Now,
		logger:  logger,
	}
}

// WeatherResponse is the JSON body of GET /weather. Field names follow the
// dashboard's Portuguese contract.
type WeatherResponse struct {
	Temperature float64               `json:"temperatura"`
	Humidity    float64               `json:"umidade"`
	Source      string                `json:"fonte"`
	Timestamp   string                `json:"timestamp"`
	IsDemoData  bool                  `json:"isDemoData"`
	Location    LocationResponse      `json:"localizacao"`
	RunLabel    string                `json:"modeloExecutado"`
	Assessment  domain.CoopAssessment `json:"avaliacao"`
	Error       *DegradationResponse  `json:"erro,omitempty"`
}

// LocationResponse names the point a reading refers to.
type LocationResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"nome"`
}

// DegradationResponse explains why a reading is simulated.
type DegradationResponse struct {
	Kind           string `json:"tipo"`
	Message        string `json:"mensagem"`
	UpstreamStatus int    `json:"statusUpstream,omitempty"`
}

// ClearCacheResponse is the JSON body of the cache clear endpoints.
type ClearCacheResponse struct {
	Cleared   bool   `json:"cleared"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse represents a standardized error response structure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// GetWeather handles GET requests for the current reading.
//
// Parameters:
//   - w: HTTP response writer
//   - r: HTTP request with optional 'lat' and 'lon' query parameters
//
// Response codes:
//   - 200: Reading, real or simulated
//   - 400: INVALID_COORDINATES when only one parameter is given or a value
//     is malformed or out of range
func (h *WeatherHandler) GetWeather(w http.ResponseWriter, r *http.Request) {
	location, ok := h.resolveLocation(w, r)
	if !ok {
		return
	}

	reading := h.gateway.GetReading(r.Context(), location.Coordinates)

	if reading.IsSimulated() {
		fields := []zap.Field{
			zap.Float64("lat", location.Coordinates.Latitude),
			zap.Float64("lon", location.Coordinates.Longitude),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		}

		if reading.Degradation != nil {
			fields = append(fields, zap.String("error_kind", string(reading.Degradation.Kind)))
		}

		h.logger.Debug("serving simulated reading", fields...)
	}

	h.respondWithJSON(w, http.StatusOK, toWeatherResponse(reading, location))
}

// ClearCache handles POST requests that drop cached readings and the cached
// upstream token.
func (h *WeatherHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.gateway.ClearCache(r.Context()); err != nil {
		h.logger.Error("failed to clear weather cache",
			zap.Error(err),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
		)

		h.respondWithError(
			w,
			http.StatusInternalServerError,
			"CACHE_CLEAR_FAILED",
			"Failed to clear the weather cache",
		)

		return
	}

	h.logger.Info("weather cache cleared",
		zap.String("client_ip", middleware.GetClientIP(r)))

	h.respondWithJSON(w, http.StatusOK, ClearCacheResponse{
		Cleared:   true,
		Timestamp: h.now().UTC().Format(timestampLayout),
	})
}

// resolveLocation maps the query to a location. Both parameters absent
// selects the farm; anything else must be a valid pair.
func (h *WeatherHandler) resolveLocation(w http.ResponseWriter, r *http.Request) (domain.Location, bool) {
	latStr := r.URL.Query().Get("lat")
	lonStr := r.URL.Query().Get("lon")

	if latStr == "" && lonStr == "" {
		return h.farm, true
	}

	if latStr == "" || lonStr == "" {
		h.respondWithError(
			w,
			http.StatusBadRequest,
			domain.CodeInvalidCoordinates,
			"Both 'lat' and 'lon' query parameters are required when either is given",
		)

		return domain.Location{}, false
	}

	latitude, err := strconv.ParseFloat(latStr, 64)

	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, domain.CodeInvalidCoordinates, "Invalid latitude format")
		return domain.Location{}, false
	}

	longitude, err := strconv.ParseFloat(lonStr, 64)

	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, domain.CodeInvalidCoordinates, "Invalid longitude format")
		return domain.Location{}, false
	}

	coords := domain.Coordinates{
		Latitude:  latitude,
		Longitude: longitude,
	}

	if err := coords.Validate(); err != nil {
		h.respondWithError(w, http.StatusBadRequest, domain.CodeInvalidCoordinates, err.Error())
		return domain.Location{}, false
	}

	if coords == h.farm.Coordinates {
		return h.farm, true
	}

	return domain.Location{Coordinates: coords, Name: customLocationName}, true
}

func toWeatherResponse(reading domain.WeatherReading, location domain.Location) WeatherResponse {
	response := WeatherResponse{
		Temperature: math.Round(reading.TemperatureCelsius*10) / 10,
		Humidity:    math.Round(reading.HumidityPercent),
		Source:      string(reading.Source),
		Timestamp:   reading.ObservedAt.UTC().Format(timestampLayout),
		IsDemoData:  reading.IsSimulated(),
		Location: LocationResponse{
			Latitude:  location.Coordinates.Latitude,
			Longitude: location.Coordinates.Longitude,
			Name:      location.Name,
		},
		RunLabel:   reading.UpstreamRunLabel,
		Assessment: domain.AssessReading(reading),
	}

	if d := reading.Degradation; d != nil {
		response.Error = &DegradationResponse{
			Kind:           string(d.Kind),
			Message:        d.Message,
			UpstreamStatus: d.UpstreamStatus,
		}
	}

	return response
}

// respondWithJSON sends a JSON response with the specified status code.
func (h *WeatherHandler) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

// respondWithError sends a standardized error response.
func (h *WeatherHandler) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}
