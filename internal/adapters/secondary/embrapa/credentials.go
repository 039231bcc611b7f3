// Package embrapa implements the secondary adapter for the Embrapa ClimAPI
// (NCEP GFS surface products). It owns the upstream credentials, the OAuth2
// client-credentials token lifecycle and the pre-shared/OAuth fallback used
// for every data request.
package embrapa

import (
	"fmt"
	"strings"
)

// Credential mode labels reported by CredentialStore.Mode.
const (
	ModeFull          = "preshared+oauth"
	ModePresharedOnly = "preshared"
	ModeOAuthOnly     = "oauth"
	ModeSyntheticOnly = "synthetic-only"
)

// Credentials are the upstream secrets, read once at startup.
type Credentials struct {
	ClientID       string
	ClientSecret   string
	PresharedToken string
}

// HasOAuthCredentials reports whether both client id and secret are present.
func (c Credentials) HasOAuthCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// HasPresharedToken reports whether a static bearer token was configured.
func (c Credentials) HasPresharedToken() bool {
	return c.PresharedToken != ""
}

// String redacts the secrets so credentials can be logged safely.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{clientID=%s, clientSecret=%s, presharedToken=%s}",
		redact(c.ClientID), redact(c.ClientSecret), redact(c.PresharedToken))
}

func redact(s string) string {
	if s == "" {
		return "<unset>"
	}

	return "<redacted>"
}

// CredentialStore is a read-only holder for Credentials.
type CredentialStore struct {
	creds Credentials
}

// NewCredentialStore trims and stores the configured secrets.
// Empty values are a valid configuration.
func NewCredentialStore(clientID, clientSecret, presharedToken string) *CredentialStore {
	return &CredentialStore{
		creds: Credentials{
			ClientID:       strings.TrimSpace(clientID),
			ClientSecret:   strings.TrimSpace(clientSecret),
			PresharedToken: strings.TrimSpace(presharedToken),
		},
	}
}

// Load returns a copy of the stored credentials.
func (s *CredentialStore) Load() Credentials {
	return s.creds
}

// HasOAuthCredentials reports whether the OAuth exchange can be attempted.
func (s *CredentialStore) HasOAuthCredentials() bool {
	return s.creds.HasOAuthCredentials()
}

// HasPresharedToken reports whether the pre-shared attempt can be made.
func (s *CredentialStore) HasPresharedToken() bool {
	return s.creds.HasPresharedToken()
}

// Mode describes which credential paths are available.
func (s *CredentialStore) Mode() string {
	switch {
	case s.HasPresharedToken() && s.HasOAuthCredentials():
		return ModeFull
	case s.HasPresharedToken():
		return ModePresharedOnly
	case s.HasOAuthCredentials():
		return ModeOAuthOnly
	default:
		return ModeSyntheticOnly
	}
}
