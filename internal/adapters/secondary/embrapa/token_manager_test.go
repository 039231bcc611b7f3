package embrapa

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/domain"
)

func newTestTokenManager(tokenURL string, creds *CredentialStore, clock *fakeClock) *TokenManager {
	return NewTokenManager(tokenURL, creds, http.DefaultClient, zap.NewNop(),
		WithTokenClock(clock.Now),
		WithExchangeTimeout(2*time.Second))
}

func TestTokenManager_ExchangeRequest(t *testing.T) {
	type capturedRequest struct {
		method      string
		auth        string
		contentType string
		form        url.Values
	}

	captured := make(chan capturedRequest, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))

		captured <- capturedRequest{
			method:      r.Method,
			auth:        r.Header.Get("Authorization"),
			contentType: r.Header.Get("Content-Type"),
			form:        form,
		}

		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":3600}`))
	}))
	defer server.Close()

	creds := NewCredentialStore("farm-client", "s3cret", "")
	manager := newTestTokenManager(server.URL, creds, newFakeClock())

	token, err := manager.GetValidToken(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "tok-1", token.Value)

	req := <-captured
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("farm-client:s3cret")), req.auth)
	assert.Equal(t, "application/x-www-form-urlencoded", req.contentType)
	assert.Equal(t, "client_credentials", req.form.Get("grant_type"))
}

func TestTokenManager_RenewalMargin(t *testing.T) {
	tests := []struct {
		name              string
		expiresIn         time.Duration
		expectedExchanges int64
	}{
		{name: "expires in 4 minutes is renewed", expiresIn: 4 * time.Minute, expectedExchanges: 2},
		{name: "expires in 6 minutes is reused", expiresIn: 6 * time.Minute, expectedExchanges: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := newStubUpstream()
			defer upstream.close()

			upstream.configure(func(s *stubUpstream) { s.tokenExpiresIn = int64(tt.expiresIn.Seconds()) })

			clock := newFakeClock()
			manager := newTestTokenManager(upstream.tokenURL(), NewCredentialStore("id", "secret", ""), clock)

			first, err := manager.GetValidToken(context.Background())
			require.NoError(t, err)
			assert.Equal(t, clock.Now().Add(tt.expiresIn), first.ExpiresAt)

			_, err = manager.GetValidToken(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.expectedExchanges, upstream.tokenCalls.Load())
		})
	}
}

func TestTokenManager_RenewsWhenClockCrossesMargin(t *testing.T) {
	upstream := newStubUpstream()
	defer upstream.close()

	clock := newFakeClock()
	manager := newTestTokenManager(upstream.tokenURL(), NewCredentialStore("id", "secret", ""), clock)

	first, err := manager.GetValidToken(context.Background())
	require.NoError(t, err)

	clock.Advance(54 * time.Minute)
	second, err := manager.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Value, second.Value)

	clock.Advance(time.Minute)
	third, err := manager.GetValidToken(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.Value, third.Value)
	assert.Equal(t, int64(2), upstream.tokenCalls.Load())
}

func TestTokenManager_DefaultExpiresIn(t *testing.T) {
	upstream := newStubUpstream()
	defer upstream.close()

	upstream.configure(func(s *stubUpstream) { s.omitExpiresIn = true })

	clock := newFakeClock()
	manager := newTestTokenManager(upstream.tokenURL(), NewCredentialStore("id", "secret", ""), clock)

	token, err := manager.GetValidToken(context.Background())

	require.NoError(t, err)
	assert.Equal(t, clock.Now(), token.ObtainedAt)
	assert.Equal(t, clock.Now().Add(time.Hour), token.ExpiresAt)
}

func TestTokenManager_FailedRenewalKeepsLastToken(t *testing.T) {
	upstream := newStubUpstream()
	defer upstream.close()

	clock := newFakeClock()
	manager := newTestTokenManager(upstream.tokenURL(), NewCredentialStore("id", "secret", ""), clock)

	first, err := manager.GetValidToken(context.Background())
	require.NoError(t, err)

	clock.Advance(56 * time.Minute)
	upstream.configure(func(s *stubUpstream) { s.tokenStatus = http.StatusServiceUnavailable })

	_, err = manager.GetValidToken(context.Background())
	require.Error(t, err)

	assert.Equal(t, domain.KindAuth, domain.ErrorKindOf(err))
	assert.Equal(t, http.StatusServiceUnavailable, domain.StatusCodeOf(err))

	var failure *domain.WeatherError
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, failure.Body, "invalid_client")

	status := manager.Status()
	assert.True(t, status.Cached)
	assert.False(t, status.Valid)
	assert.Equal(t, first.ExpiresAt, status.ExpiresAt)
}

func TestTokenManager_ConcurrentCallersShareOneExchange(t *testing.T) {
	upstream := newStubUpstream()
	defer upstream.close()

	upstream.configure(func(s *stubUpstream) { s.tokenDelay = 100 * time.Millisecond })

	manager := newTestTokenManager(upstream.tokenURL(), NewCredentialStore("id", "secret", ""), newFakeClock())

	const callers = 50

	var (
		wg     sync.WaitGroup
		start  = make(chan struct{})
		values = make([]string, callers)
		errs   = make([]error, callers)
	)

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			<-start

			token, err := manager.GetValidToken(context.Background())
			values[i] = token.Value
			errs[i] = err
		}(i)
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), upstream.tokenCalls.Load())

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, values[0], values[i])
	}
}

func TestTokenManager_Invalidate(t *testing.T) {
	upstream := newStubUpstream()
	defer upstream.close()

	manager := newTestTokenManager(upstream.tokenURL(), NewCredentialStore("id", "secret", ""), newFakeClock())

	_, err := manager.GetValidToken(context.Background())
	require.NoError(t, err)

	manager.Invalidate()
	assert.False(t, manager.Status().Cached)

	_, err = manager.GetValidToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), upstream.tokenCalls.Load())
}

func TestTokenManager_WithoutCredentials(t *testing.T) {
	upstream := newStubUpstream()
	defer upstream.close()

	manager := newTestTokenManager(upstream.tokenURL(), NewCredentialStore("id", "", "abc"), newFakeClock())

	_, err := manager.GetValidToken(context.Background())

	require.Error(t, err)
	assert.Equal(t, domain.KindAuth, domain.ErrorKindOf(err))
	assert.Contains(t, err.Error(), "no oauth credentials configured")
	assert.Equal(t, int64(0), upstream.tokenCalls.Load())
}

func TestTokenManager_CancelledCallerStartsNoExchange(t *testing.T) {
	upstream := newStubUpstream()
	defer upstream.close()

	manager := newTestTokenManager(upstream.tokenURL(), NewCredentialStore("id", "secret", ""), newFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := manager.GetValidToken(ctx)

	require.Error(t, err)
	assert.Equal(t, domain.KindAuth, domain.ErrorKindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), upstream.tokenCalls.Load())
	assert.Equal(t, int64(0), manager.Exchanges())
}

func TestTokenManager_UnreachableTokenEndpoint(t *testing.T) {
	upstream := newStubUpstream()
	tokenURL := upstream.tokenURL()
	upstream.close()

	manager := newTestTokenManager(tokenURL, NewCredentialStore("id", "secret", ""), newFakeClock())

	_, err := manager.GetValidToken(context.Background())

	require.Error(t, err)
	assert.Equal(t, domain.KindAuth, domain.ErrorKindOf(err))
	assert.False(t, manager.Status().Cached)
}

func TestTokenManager_MissingAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"expires_in":3600}`))
	}))
	defer server.Close()

	manager := newTestTokenManager(server.URL, NewCredentialStore("id", "secret", ""), newFakeClock())

	_, err := manager.GetValidToken(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing access_token")
}

func TestCredentialStore(t *testing.T) {
	tests := []struct {
		name     string
		store    *CredentialStore
		hasOAuth bool
		mode     string
	}{
		{name: "everything", store: NewCredentialStore("id", "secret", "abc"), hasOAuth: true, mode: ModeFull},
		{name: "pre-shared only", store: NewCredentialStore("", "", "abc"), mode: ModePresharedOnly},
		{name: "oauth only", store: NewCredentialStore("id", "secret", ""), hasOAuth: true, mode: ModeOAuthOnly},
		{name: "secret missing", store: NewCredentialStore("id", "  ", ""), mode: ModeSyntheticOnly},
		{name: "nothing", store: NewCredentialStore("", "", ""), mode: ModeSyntheticOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.hasOAuth, tt.store.HasOAuthCredentials())
			assert.Equal(t, tt.mode, tt.store.Mode())
		})
	}
}

func TestCredentials_StringRedactsSecrets(t *testing.T) {
	rendered := NewCredentialStore("farm-client", "s3cret", "abc-123").Load().String()

	assert.NotContains(t, rendered, "farm-client")
	assert.NotContains(t, rendered, "s3cret")
	assert.NotContains(t, rendered, "abc-123")
}
