package sessions

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/jrsteele09/go-solar-auth/identity"
)

// sessionIDLength is the number of random bytes in a session id
const sessionIDLength = 32

// Session ties a browser cookie to the user's current identity and tokens.
// It is mutated only by the token lifecycle on a successful refresh and must
// be written back to the Store explicitly after any change.
type Session struct {
	// Core identity
	Claims identity.Claims `json:"claims"`

	// Tokens (refresh is optional, without it an expired session cannot self-heal)
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`

	// Session management, epoch seconds
	ExpiresAt int64 `json:"expires_at,omitempty"`
	CreatedAt int64 `json:"created_at"`
}

// New builds a session from a freshly issued grant.
func New(tokens identity.Tokens, now time.Time) Session {
	s := Session{CreatedAt: now.Unix()}
	return s.WithTokens(tokens)
}

// WithTokens returns a copy of the session carrying the tokens of a newer
// grant. A refresh token that was not rotated is kept, and claims are only
// replaced when the grant carried new ones. The expiry is recomputed from the
// claims, falling back to the access token expiry.
func (s Session) WithTokens(tokens identity.Tokens) Session {
	updated := s
	if tokens.HasClaims() {
		updated.Claims = tokens.Claims
	}
	updated.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		updated.RefreshToken = tokens.RefreshToken
	}

	updated.ExpiresAt = 0
	if exp, ok := tokens.Claims.Expiry(); ok {
		updated.ExpiresAt = exp.Unix()
	} else if !tokens.Expiry.IsZero() {
		updated.ExpiresAt = tokens.Expiry.Unix()
	}
	return updated
}

// Expiry returns the computed session expiry and whether one is set.
func (s Session) Expiry() (time.Time, bool) {
	if s.ExpiresAt <= 0 {
		return time.Time{}, false
	}
	return time.Unix(s.ExpiresAt, 0), true
}

// HasRefreshToken reports whether the session can attempt a refresh grant.
func (s Session) HasRefreshToken() bool {
	return s.RefreshToken != ""
}

// Store is durable keyed persistence of sessions with expiry.
type Store interface {
	// Create stores a new session that expires after ttl.
	Create(ctx context.Context, id string, session Session, ttl time.Duration) error
	// Read returns ErrSessionNotFound when the id is unknown or has expired.
	Read(ctx context.Context, id string) (Session, error)
	// Write replaces an existing session, keeping its remaining ttl.
	Write(ctx context.Context, id string, session Session) error
	// Destroy removes the session. Destroying an unknown id is not an error.
	Destroy(ctx context.Context, id string) error
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewID returns a new opaque session id.
func NewID() string {
	b := make([]byte, sessionIDLength)
	if _, err := rand.Read(b); err != nil {
		panic("sessions: crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
