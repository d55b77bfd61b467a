package strategy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-solar-auth/identity"
	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
	"github.com/jrsteele09/go-solar-auth/provider"
)

// CallbackPath is where the identity provider redirects back to
const CallbackPath = "/api/callback"

// loginPrompt forces the provider to show its login and consent screens
const loginPrompt = "login consent"

// Strategy binds the provider configuration to the callback URL of one
// hostname. The provider validates callback URLs exactly, so every domain the
// application is served from needs its own strategy.
type Strategy struct {
	Name        string
	Hostname    string
	CallbackURL string

	configs provider.Source
}

func newStrategy(hostname string, configs provider.Source) *Strategy {
	return &Strategy{
		Name:        "oidc:" + hostname,
		Hostname:    hostname,
		CallbackURL: fmt.Sprintf("https://%s%s", hostname, CallbackPath),
		configs:     configs,
	}
}

// LoginRequest carries the per-login secrets that must survive the redirect.
type LoginRequest struct {
	State        string
	Nonce        string
	CodeVerifier string
}

// NewLoginRequest generates fresh state, nonce and PKCE verifier values.
func NewLoginRequest() LoginRequest {
	return LoginRequest{
		State:        oauth2.GenerateVerifier(),
		Nonce:        oauth2.GenerateVerifier(),
		CodeVerifier: oauth2.GenerateVerifier(),
	}
}

func (s *Strategy) oauth2Config(ctx context.Context) (*provider.Config, *oauth2.Config, error) {
	cfg, err := s.configs.Get(ctx)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.OAuth2(s.CallbackURL), nil
}

// AuthCodeURL returns the provider authorization URL for a login.
func (s *Strategy) AuthCodeURL(ctx context.Context, req LoginRequest) (string, error) {
	_, oc, err := s.oauth2Config(ctx)
	if err != nil {
		return "", err
	}
	return oc.AuthCodeURL(req.State,
		oidc.Nonce(req.Nonce),
		oauth2.S256ChallengeOption(req.CodeVerifier),
		oauth2.SetAuthURLParam("prompt", loginPrompt),
	), nil
}

// Exchange trades an authorization code for tokens and verifies the ID token,
// including the nonce bound to the login request.
func (s *Strategy) Exchange(ctx context.Context, code string, req LoginRequest) (identity.Tokens, error) {
	cfg, oc, err := s.oauth2Config(ctx)
	if err != nil {
		return identity.Tokens{}, err
	}

	token, err := oc.Exchange(ctx, code, oauth2.VerifierOption(req.CodeVerifier))
	if err != nil {
		return identity.Tokens{}, fmt.Errorf("%w: token exchange failed: %w", apperrors.ErrInvalidCallback, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return identity.Tokens{}, fmt.Errorf("%w: no id_token in token response", apperrors.ErrInvalidCallback)
	}

	idToken, err := cfg.Verifier().Verify(ctx, rawIDToken)
	if err != nil {
		return identity.Tokens{}, fmt.Errorf("%w: id token verification failed: %w", apperrors.ErrInvalidCallback, err)
	}
	if idToken.Nonce != req.Nonce {
		return identity.Tokens{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidCallback, apperrors.ErrInvalidNonce)
	}

	claims, err := identity.FromIDToken(idToken)
	if err != nil {
		return identity.Tokens{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidCallback, err)
	}

	return identity.Tokens{
		Claims:       claims,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		IDToken:      rawIDToken,
	}, nil
}

// EndSessionURL returns the provider logout URL that redirects back to
// postLogoutRedirectURI, or "" when the provider has no end-session endpoint.
func (s *Strategy) EndSessionURL(ctx context.Context, postLogoutRedirectURI string) string {
	cfg, err := s.configs.Get(ctx)
	if err != nil {
		return ""
	}
	return cfg.BuildEndSessionURL(postLogoutRedirectURI)
}

// Revoke asks the provider to revoke a token (RFC 7009). Providers without a
// revocation endpoint are skipped.
func (s *Strategy) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	cfg, err := s.configs.Get(ctx)
	if err != nil {
		return err
	}
	if cfg.RevocationURL == "" || token == "" {
		return nil
	}

	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", tokenTypeHint)
	form.Set("client_id", cfg.ClientID)
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.RevocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient(ctx).Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revocation endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// httpClient honours a client placed in the context with oidc.ClientContext.
func httpClient(ctx context.Context) *http.Client {
	if c, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
		return c
	}
	return http.DefaultClient
}
