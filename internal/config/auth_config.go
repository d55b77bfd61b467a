package config

import "time"

type Auth struct {
	s *settings
}

var _ AuthConfig = Auth{}

// GetAuthMode returns the requested mode: auto, provider or local.
func (a Auth) GetAuthMode() string {
	return a.s.AuthMode
}

func (a Auth) GetIssuerURL() string {
	return a.s.IssuerURL
}

func (a Auth) GetClientID() string {
	return a.s.ClientID
}

func (a Auth) GetClientSecret() string {
	return a.s.ClientSecret
}

func (a Auth) GetScopes() []string {
	return append([]string(nil), a.s.Scopes...)
}

func (a Auth) GetDiscoveryTTL() time.Duration {
	return a.s.DiscoveryTTL
}

func (a Auth) GetDiscoveryRetry() time.Duration {
	return a.s.DiscoveryRetry
}

func (a Auth) GetRefreshTimeout() time.Duration {
	return a.s.RefreshTimeout
}
