package identity

import (
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Claims are the identity attributes asserted for a user, either by the
// identity provider or by the local fallback. A Claims value is never edited
// after it is created; a refresh produces a new value that supersedes it.
type Claims struct {
	Subject         string `json:"sub"`
	Email           string `json:"email,omitempty"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
	ExpiresAt       int64  `json:"exp,omitempty"` // epoch seconds
}

// Expiry returns the claims expiry and whether one is set.
func (c Claims) Expiry() (time.Time, bool) {
	if c.ExpiresAt <= 0 {
		return time.Time{}, false
	}
	return time.Unix(c.ExpiresAt, 0), true
}

// IsZero reports whether no subject has been asserted.
func (c Claims) IsZero() bool {
	return c.Subject == ""
}

// FromIDToken extracts claims from a verified ID token. When the token carries
// no usable exp claim the verifier's parsed expiry is used instead.
func FromIDToken(idToken *oidc.IDToken) (Claims, error) {
	var c Claims
	if err := idToken.Claims(&c); err != nil {
		return Claims{}, fmt.Errorf("failed to extract claims: %w", err)
	}
	if c.Subject == "" {
		c.Subject = idToken.Subject
	}
	if c.ExpiresAt <= 0 && !idToken.Expiry.IsZero() {
		c.ExpiresAt = idToken.Expiry.Unix()
	}
	return c, nil
}

// Tokens is the result of a successful code exchange or refresh grant.
type Tokens struct {
	Claims       Claims
	AccessToken  string
	RefreshToken string    // empty when the provider did not issue or rotate one
	Expiry       time.Time // access token expiry reported by the token endpoint
	IDToken      string
}

// HasClaims reports whether the grant carried an ID token with claims.
func (t Tokens) HasClaims() bool {
	return !t.Claims.IsZero()
}
