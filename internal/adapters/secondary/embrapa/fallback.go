package embrapa

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/domain"
)

// Credential labels recorded in domain.Attempt.
const (
	CredentialPreshared = "preshared"
	CredentialOAuth     = "oauth"
)

// BearerFetcher is satisfied by Fetcher.
type BearerFetcher interface {
	Fetch(ctx context.Context, url, bearerToken string) (int, []byte, error)
}

// TokenSource is satisfied by TokenManager.
type TokenSource interface {
	GetValidToken(ctx context.Context) (AccessToken, error)
	Invalidate()
}

// FallbackAuthStrategy tries the pre-shared token first and falls back to an
// OAuth token only after observing the pre-shared failure. Attempts are
// strictly sequential.
type FallbackAuthStrategy struct {
	creds   *CredentialStore
	fetcher BearerFetcher
	tokens  TokenSource
	logger  *zap.Logger
}

// NewFallbackAuthStrategy wires the strategy.
//
// Parameters:
//   - creds: Credential store, consulted for which paths are available
//   - fetcher: Bearer GET implementation
//   - tokens: OAuth token source
//   - logger: Zap logger for fallback transitions
//
// Returns:
//   - *FallbackAuthStrategy: Configured strategy
func NewFallbackAuthStrategy(creds *CredentialStore, fetcher BearerFetcher, tokens TokenSource, logger *zap.Logger) *FallbackAuthStrategy {
	return &FallbackAuthStrategy{
		creds:   creds,
		fetcher: fetcher,
		tokens:  tokens,
		logger:  logger,
	}
}

// Fetch returns the 2xx body for url using the first credential that works.
//
// Returns:
//   - []byte: Response body of the successful attempt
//   - error: AUTH_FAILURE when OAuth is unavailable or the exchange fails,
//     UPSTREAM_FAILURE when both data attempts were rejected
func (s *FallbackAuthStrategy) Fetch(ctx context.Context, url string) ([]byte, error) {
	preshared := domain.Attempt{Credential: CredentialPreshared, Error: "not configured"}

	if s.creds.HasPresharedToken() {
		status, body, err := s.fetcher.Fetch(ctx, url, s.creds.Load().PresharedToken)

		if err == nil && isSuccess(status) {
			return body, nil
		}

		preshared = attemptOf(CredentialPreshared, status, err)

		s.logger.Info("pre-shared token attempt failed, falling back to oauth",
			zap.String("url", url),
			zap.Int("upstream_status", status),
			zap.Error(err))
	}

	if !s.creds.HasOAuthCredentials() {
		failure := domain.NewAuthFailure("no oauth credentials configured", preshared.StatusCode, "")
		failure.Attempts = []domain.Attempt{preshared}

		return nil, failure
	}

	token, err := s.tokens.GetValidToken(ctx)

	if err != nil {
		return nil, err
	}

	status, body, err := s.fetcher.Fetch(ctx, url, token.Value)

	if err == nil && isSuccess(status) {
		return body, nil
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		s.tokens.Invalidate()
	}

	failure := domain.NewUpstreamFailure("pre-shared and oauth attempts both failed",
		preshared, attemptOf(CredentialOAuth, status, err))
	failure.Cause = err

	s.logger.Warn("upstream rejected every credential",
		zap.String("url", url),
		zap.Int("preshared_status", preshared.StatusCode),
		zap.Int("oauth_status", status),
		zap.Error(err))

	return nil, failure
}

func attemptOf(credential string, status int, err error) domain.Attempt {
	a := domain.Attempt{Credential: credential, StatusCode: status}

	if err != nil {
		a.Error = err.Error()
	}

	return a
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}
