package embrapa

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/domain"
	"github.com/sean-rowe/farm-weather-gateway/internal/version"
)

// maxResponseBody bounds how much of a data response is read.
const maxResponseBody = 1 << 20

// Fetcher issues bearer-authenticated GET requests.
// It never retries and never interprets status codes.
type Fetcher struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// NewFetcher creates a Fetcher; timeout bounds each request (default 10s).
func NewFetcher(httpClient *http.Client, timeout time.Duration, logger *zap.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Fetcher{
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
	}
}

// Fetch performs GET url with "Authorization: Bearer <token>".
//
// Returns:
//   - int: Upstream HTTP status code
//   - []byte: Response body
//   - error: NETWORK_FAILURE for timeouts and transport errors only
func (f *Fetcher) Fetch(ctx context.Context, url, bearerToken string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

	if err != nil {
		return 0, nil, domain.NewNetworkFailure(err)
	}

	req.Header.Set("Authorization", "Bearer "+bearerToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := f.httpClient.Do(req)

	if err != nil {
		f.logger.Debug("upstream request failed",
			zap.String("url", url),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))

		return 0, nil, domain.NewNetworkFailure(err)
	}

	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			f.logger.Error("failed to close response body", zap.Error(err))
		}
	}(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if err != nil {
		return resp.StatusCode, nil, domain.NewNetworkFailure(err)
	}

	f.logger.Debug("upstream request completed",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	return resp.StatusCode, body, nil
}
