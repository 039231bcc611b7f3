package middleware

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/ports"
)

// CodeRateLimitExceeded is the error code returned with 429 responses.
const CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

// RateLimitMiddleware limits requests per client IP over a sliding window.
type RateLimitMiddleware struct {
	limiter ports.RateLimitService
	limit   int
	window  time.Duration
	logger  *zap.Logger
}

// NewRateLimitMiddleware creates the middleware.
//
// Parameters:
//   - limiter: Memory or Redis sliding-window limiter
//   - limit: Requests allowed per window and client
//   - window: Length of the sliding window
//   - logger: Zap logger for limiter failures
//
// Returns:
//   - *RateLimitMiddleware: Middleware instance
func NewRateLimitMiddleware(limiter ports.RateLimitService, limit int, window time.Duration, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		logger:  logger,
	}
}

// Middleware rejects requests over the limit with 429. A failing limiter
// lets the request through.
func (m *RateLimitMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := GetClientIP(r)

		allowed, err := m.limiter.Allow(r.Context(), clientIP, m.limit, m.window)

		if err != nil {
			m.logger.Warn("rate limiter unavailable, allowing request",
				zap.String("client_ip", clientIP),
				zap.Error(err))

			next.ServeHTTP(w, r)

			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(m.window.Seconds())))
			writeJSONError(w, http.StatusTooManyRequests, CodeRateLimitExceeded,
				"Too many requests, please try again later")

			return
		}

		next.ServeHTTP(w, r)
	})
}
