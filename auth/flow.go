package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-solar-auth/identity"
	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
	"github.com/jrsteele09/go-solar-auth/sessions"
	"github.com/jrsteele09/go-solar-auth/strategy"
	"github.com/jrsteele09/go-solar-auth/users"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Paths of the authentication entry points
const (
	LoginPath    = "/api/login"
	CallbackPath = strategy.CallbackPath
	LogoutPath   = "/api/logout"
)

// Flow is the login, callback and logout entry points for one mode.
type Flow interface {
	Login(w http.ResponseWriter, r *http.Request)
	Callback(w http.ResponseWriter, r *http.Request)
	Logout(w http.ResponseWriter, r *http.Request)
}

// establisher turns a successful login into a persisted session and a cookie.
// Both modes share it so a local login is indistinguishable from a provider one.
type establisher struct {
	store   sessions.Store
	users   users.Repo
	cookies *sessions.Cookies
}

func (e *establisher) establish(ctx context.Context, w http.ResponseWriter, r *http.Request, tokens identity.Tokens) error {
	if err := e.users.Upsert(ctx, tokens.Claims); err != nil {
		return apperrors.WithKind(apperrors.ErrUserUpsert, err)
	}

	// A new login always gets a new session id
	if previous, err := e.cookies.SessionID(r); err == nil {
		if err := e.store.Destroy(ctx, previous); err != nil {
			log.Warn().Err(err).Msg("Failed to destroy previous session")
		}
	}

	id := sessions.NewID()
	if err := e.store.Create(ctx, id, sessions.New(tokens, NowTimeFunc()), e.cookies.TTL()); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return e.cookies.Set(w, r, id)
}

// destroy removes the request's session and clears its cookie, returning the
// destroyed session when there was one.
func (e *establisher) destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) (sessions.Session, bool) {
	defer e.cookies.Clear(w, r)

	id, err := e.cookies.SessionID(r)
	if err != nil {
		return sessions.Session{}, false
	}
	s, readErr := e.store.Read(ctx, id)
	if err := e.store.Destroy(ctx, id); err != nil {
		log.Err(err).Msg("Failed to destroy session")
	}
	return s, readErr == nil
}

// safeReturnURL accepts only local absolute paths so the callback cannot be
// turned into an open redirect.
func safeReturnURL(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return ""
	}
	return raw
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
