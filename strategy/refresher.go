package strategy

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-solar-auth/identity"
	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
	"github.com/jrsteele09/go-solar-auth/provider"
)

// DefaultRefreshTimeout bounds a single refresh grant.
const DefaultRefreshTimeout = 10 * time.Second

// Refresher performs the refresh_token grant against the token endpoint.
// The grant does not depend on the hostname so a single Refresher serves
// every strategy.
type Refresher struct {
	configs provider.Source
	timeout time.Duration
}

// NewRefresher creates a Refresher. A non-positive timeout uses DefaultRefreshTimeout.
func NewRefresher(configs provider.Source, timeout time.Duration) *Refresher {
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &Refresher{configs: configs, timeout: timeout}
}

// Refresh exchanges a refresh token for new tokens. When the response carries
// an ID token it is verified and its claims are returned.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (identity.Tokens, error) {
	if refreshToken == "" {
		return identity.Tokens{}, apperrors.ErrNoRefreshToken
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cfg, err := r.configs.Get(ctx)
	if err != nil {
		return identity.Tokens{}, err
	}

	token, err := cfg.OAuth2("").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return identity.Tokens{}, fmt.Errorf("refresh grant failed: %w", err)
	}
	if token.AccessToken == "" {
		return identity.Tokens{}, fmt.Errorf("refresh grant returned no access token")
	}

	tokens := identity.Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}

	if rawIDToken, ok := token.Extra("id_token").(string); ok && rawIDToken != "" {
		idToken, err := cfg.Verifier().Verify(ctx, rawIDToken)
		if err != nil {
			return identity.Tokens{}, fmt.Errorf("refreshed id token verification failed: %w", err)
		}
		claims, err := identity.FromIDToken(idToken)
		if err != nil {
			return identity.Tokens{}, err
		}
		tokens.Claims = claims
		tokens.IDToken = rawIDToken
	}
	return tokens, nil
}
