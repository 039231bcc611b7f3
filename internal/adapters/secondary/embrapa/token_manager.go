package embrapa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/domain"
	"github.com/sean-rowe/farm-weather-gateway/internal/version"
)

const (
	// RenewalMargin is how long before expiry a token stops being presented.
	RenewalMargin = 5 * time.Minute

	// defaultExpiresIn applies when the token endpoint omits expires_in.
	defaultExpiresIn = 3600

	// maxErrorBody bounds the upstream body copied into errors and logs.
	maxErrorBody = 512

	tokenFlightKey = "client_credentials"
)

// AccessToken is an OAuth2 bearer token and its validity window.
type AccessToken struct {
	Value      string
	ObtainedAt time.Time
	ExpiresAt  time.Time
}

// ValidAt reports whether the token may still be presented at now.
func (t AccessToken) ValidAt(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-RenewalMargin))
}

// TokenStatus is a snapshot of the token cache for diagnostics.
type TokenStatus struct {
	Cached    bool      `json:"cached"`
	Valid     bool      `json:"valid"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Exchanges int64     `json:"exchanges"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// TokenManager obtains and caches client-credentials tokens.
// Concurrent callers that find no valid token share a single exchange.
type TokenManager struct {
	tokenURL   string
	creds      *CredentialStore
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.RWMutex
	token *AccessToken

	flights   singleflight.Group
	exchanges atomic.Int64
}

// TokenManagerOption customizes a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithTokenClock replaces time.Now, mainly for tests.
func WithTokenClock(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

// WithExchangeTimeout bounds each token exchange (default 10s).
func WithExchangeTimeout(d time.Duration) TokenManagerOption {
	return func(m *TokenManager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewTokenManager creates a token manager for the given token endpoint.
//
// Parameters:
//   - tokenURL: OAuth2 token endpoint
//   - creds: Store holding the client id and secret
//   - httpClient: HTTP client used for the exchange
//   - logger: Zap logger for exchange events
//
// Returns:
//   - *TokenManager: Manager with an empty token cache
func NewTokenManager(tokenURL string, creds *CredentialStore, httpClient *http.Client, logger *zap.Logger, opts ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		tokenURL:   tokenURL,
		creds:      creds,
		httpClient: httpClient,
		timeout:    10 * time.Second,
		logger:     logger,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// GetValidToken returns the cached token while it is outside the renewal
// margin, otherwise performs (or joins) a client-credentials exchange.
//
// Returns:
//   - AccessToken: Token valid for at least RenewalMargin
//   - error: AUTH_FAILURE carrying the upstream status and body
func (m *TokenManager) GetValidToken(ctx context.Context) (AccessToken, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}

	if !m.creds.HasOAuthCredentials() {
		return AccessToken{}, domain.NewAuthFailure("no oauth credentials configured", 0, "")
	}

	if err := ctx.Err(); err != nil {
		failure := domain.NewAuthFailure("token request abandoned", 0, "")
		failure.Cause = err

		return AccessToken{}, failure
	}

	// The exchange outlives a cancelled caller so joined callers still get a result.
	exchangeCtx := context.WithoutCancel(ctx)

	ch := m.flights.DoChan(tokenFlightKey, func() (interface{}, error) {
		if tok, ok := m.cached(); ok {
			return tok, nil
		}

		return m.exchange(exchangeCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return AccessToken{}, res.Err
		}

		return res.Val.(AccessToken), nil
	case <-ctx.Done():
		failure := domain.NewAuthFailure("token request abandoned", 0, "")
		failure.Cause = ctx.Err()

		return AccessToken{}, failure
	}
}

// Invalidate drops the cached token; the next call performs an exchange.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()

	m.logger.Info("upstream access token invalidated")
}

// Status reports the token cache state without triggering an exchange.
func (m *TokenManager) Status() TokenStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := TokenStatus{Exchanges: m.exchanges.Load()}

	if m.token != nil {
		status.Cached = true
		status.Valid = m.token.ValidAt(m.now())
		status.ExpiresAt = m.token.ExpiresAt
	}

	return status
}

// Exchanges returns how many token exchanges were attempted.
func (m *TokenManager) Exchanges() int64 {
	return m.exchanges.Load()
}

func (m *TokenManager) cached() (AccessToken, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.token == nil || !m.token.ValidAt(m.now()) {
		return AccessToken{}, false
	}

	return *m.token, true
}

// exchange performs the client-credentials grant. The cached token is
// replaced only on success.
func (m *TokenManager) exchange(ctx context.Context) (AccessToken, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))

	if err != nil {
		failure := domain.NewAuthFailure("invalid token endpoint", 0, "")
		failure.Cause = err

		return AccessToken{}, failure
	}

	creds := m.creds.Load()
	basic := base64.StdEncoding.EncodeToString([]byte(creds.ClientID + ":" + creds.ClientSecret))

	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	m.exchanges.Add(1)
	resp, err := m.httpClient.Do(req)

	if err != nil {
		m.logger.Warn("token exchange failed", zap.Error(err))

		failure := domain.NewAuthFailure("token exchange failed", 0, "")
		failure.Cause = domain.NewNetworkFailure(err)

		return AccessToken{}, failure
	}

	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if err != nil {
		failure := domain.NewAuthFailure("failed to read token response", resp.StatusCode, "")
		failure.Cause = domain.NewNetworkFailure(err)

		return AccessToken{}, failure
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.logger.Warn("token endpoint rejected client credentials",
			zap.Int("upstream_status", resp.StatusCode),
			zap.String("body", truncate(body)))

		return AccessToken{}, domain.NewAuthFailure("token endpoint rejected client credentials", resp.StatusCode, truncate(body))
	}

	var payload tokenResponse

	if err := json.Unmarshal(body, &payload); err != nil {
		failure := domain.NewAuthFailure("invalid token response", resp.StatusCode, truncate(body))
		failure.Cause = err

		return AccessToken{}, failure
	}

	if payload.AccessToken == "" {
		return AccessToken{}, domain.NewAuthFailure("token response missing access_token", resp.StatusCode, truncate(body))
	}

	expiresIn := payload.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	now := m.now()
	tok := &AccessToken{
		Value:      payload.AccessToken,
		ObtainedAt: now,
		ExpiresAt:  now.Add(time.Duration(expiresIn) * time.Second),
	}

	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()

	m.logger.Info("upstream access token obtained",
		zap.Time("expires_at", tok.ExpiresAt),
		zap.Int64("expires_in", expiresIn))

	return *tok, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody])
	}

	return string(body)
}
