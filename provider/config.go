package provider

import (
	"net/url"
	"slices"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// DefaultScopes are requested on every login. offline_access asks the
// provider for a refresh token.
var DefaultScopes = []string{oidc.ScopeOpenID, "email", "profile", oidc.ScopeOfflineAccess}

// Config is the discovery metadata of the identity provider bound to this
// application's client registration. It is shared read-only across requests.
type Config struct {
	Issuer        string
	ClientID      string
	ClientSecret  string
	Scopes        []string
	Endpoint      oauth2.Endpoint
	EndSessionURL string // empty when the provider does not advertise one
	RevocationURL string // empty when the provider does not advertise one

	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// extraMetadata holds discovery fields go-oidc does not surface directly
type extraMetadata struct {
	EndSessionEndpoint string   `json:"end_session_endpoint"`
	RevocationEndpoint string   `json:"revocation_endpoint"`
	TokenAuthMethods   []string `json:"token_endpoint_auth_methods_supported"`
}

// tokenAuthStyle picks how client credentials are sent to the token endpoint.
// The style is fixed so a failed grant is never resent with the other style.
// Providers that do not advertise methods default to client_secret_basic.
func tokenAuthStyle(methods []string, clientSecret string) oauth2.AuthStyle {
	if clientSecret == "" {
		return oauth2.AuthStyleInParams
	}
	if len(methods) == 0 || slices.Contains(methods, "client_secret_basic") {
		return oauth2.AuthStyleInHeader
	}
	if slices.Contains(methods, "client_secret_post") || slices.Contains(methods, "none") {
		return oauth2.AuthStyleInParams
	}
	return oauth2.AuthStyleInHeader
}

func newConfig(p *oidc.Provider, settings Settings) (*Config, error) {
	var extra extraMetadata
	if err := p.Claims(&extra); err != nil {
		return nil, err
	}

	scopes := settings.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	endpoint := p.Endpoint()
	endpoint.AuthStyle = tokenAuthStyle(extra.TokenAuthMethods, settings.ClientSecret)

	return &Config{
		Issuer:        settings.IssuerURL,
		ClientID:      settings.ClientID,
		ClientSecret:  settings.ClientSecret,
		Scopes:        scopes,
		Endpoint:      endpoint,
		EndSessionURL: extra.EndSessionEndpoint,
		RevocationURL: extra.RevocationEndpoint,
		provider:      p,
		verifier:      p.Verifier(&oidc.Config{ClientID: settings.ClientID}),
	}, nil
}

// OAuth2 returns an oauth2 client configuration with the given callback URL.
// A fresh value is returned on every call so callers never share mutable state.
func (c *Config) OAuth2(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     c.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       append([]string(nil), c.Scopes...),
	}
}

// Verifier returns the ID token verifier bound to the client id.
func (c *Config) Verifier() *oidc.IDTokenVerifier {
	return c.verifier
}

// BuildEndSessionURL returns the RP-initiated logout URL, or "" when the
// provider has no end-session endpoint.
func (c *Config) BuildEndSessionURL(postLogoutRedirectURI string) string {
	if c.EndSessionURL == "" {
		return ""
	}
	u, err := url.Parse(c.EndSessionURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("client_id", c.ClientID)
	q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	u.RawQuery = q.Encode()
	return u.String()
}
