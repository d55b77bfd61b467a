package auth

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-solar-auth/identity"
	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
	"github.com/jrsteele09/go-solar-auth/sessions"
)

type contextKey struct{}

type authorized struct {
	id      string
	session sessions.Session
}

// WithSession attaches an authorized session to the context.
func WithSession(ctx context.Context, sessionID string, s sessions.Session) context.Context {
	return context.WithValue(ctx, contextKey{}, authorized{id: sessionID, session: s})
}

// SessionFromContext returns the authorized session and its id.
func SessionFromContext(ctx context.Context) (string, sessions.Session, bool) {
	a, ok := ctx.Value(contextKey{}).(authorized)
	if !ok {
		return "", sessions.Session{}, false
	}
	return a.id, a.session, true
}

// RequireSession returns the claims of the session the guard authorized for
// this request, or ErrUnauthenticated.
func RequireSession(r *http.Request) (identity.Claims, error) {
	_, s, ok := SessionFromContext(r.Context())
	if !ok || s.Claims.IsZero() {
		return identity.Claims{}, apperrors.ErrUnauthenticated
	}
	return s.Claims, nil
}
