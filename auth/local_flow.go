package auth

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-solar-auth/identity"
	"github.com/jrsteele09/go-solar-auth/sessions"
	"github.com/jrsteele09/go-solar-auth/users"
)

// The fixed identity every local login signs in as
const (
	LocalSubject         = "local-admin-id"
	LocalEmail           = "admin@local.com"
	LocalFirstName       = "Local"
	LocalLastName        = "Admin"
	LocalSessionLifetime = 24 * time.Hour
)

// LocalFlow signs users in as the local administrator without contacting any
// identity provider.
type LocalFlow struct {
	establisher
}

var _ Flow = (*LocalFlow)(nil)

// NewLocalFlow creates the local mode entry points.
func NewLocalFlow(store sessions.Store, userRepo users.Repo, cookies *sessions.Cookies) *LocalFlow {
	return &LocalFlow{establisher{store: store, users: userRepo, cookies: cookies}}
}

// LocalTokens is the synthetic grant of a local login at now.
func LocalTokens(now time.Time) identity.Tokens {
	expiry := now.Add(LocalSessionLifetime)
	return identity.Tokens{
		Claims: identity.Claims{
			Subject:   LocalSubject,
			Email:     LocalEmail,
			FirstName: LocalFirstName,
			LastName:  LocalLastName,
			ExpiresAt: expiry.Unix(),
		},
		Expiry: expiry,
	}
}

// Login establishes a local session and redirects to the application root.
func (f *LocalFlow) Login(w http.ResponseWriter, r *http.Request) {
	if err := f.establish(r.Context(), w, r, LocalTokens(NowTimeFunc())); err != nil {
		log.Err(err).Msg("Local login failed")
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}
	log.Info().Str("sub", LocalSubject).Msg("Local login")
	http.Redirect(w, r, "/", http.StatusFound)
}

// Callback has no provider to hear from in local mode.
func (f *LocalFlow) Callback(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, LoginPath, http.StatusFound)
}

// Logout destroys the local session.
func (f *LocalFlow) Logout(w http.ResponseWriter, r *http.Request) {
	f.destroy(r.Context(), w, r)
	http.Redirect(w, r, "/", http.StatusFound)
}
