package auth

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-solar-auth/auth/flowstate"
	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
	"github.com/jrsteele09/go-solar-auth/sessions"
	"github.com/jrsteele09/go-solar-auth/strategy"
	"github.com/jrsteele09/go-solar-auth/users"
)

// StateCookieName binds a pending login to the browser that started it
const StateCookieName = "solar_auth_state"

// ProviderFlow runs the authorization code flow against the identity
// provider, with a strategy per inbound hostname.
type ProviderFlow struct {
	establisher
	registry *strategy.Registry
	pending  flowstate.Repo
}

var _ Flow = (*ProviderFlow)(nil)

// NewProviderFlow creates the provider mode entry points.
func NewProviderFlow(registry *strategy.Registry, pending flowstate.Repo, store sessions.Store, userRepo users.Repo, cookies *sessions.Cookies) *ProviderFlow {
	return &ProviderFlow{
		establisher: establisher{store: store, users: userRepo, cookies: cookies},
		registry:    registry,
		pending:     pending,
	}
}

// Login redirects to the provider's authorization endpoint.
func (f *ProviderFlow) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s, err := f.registry.Ensure(ctx, r.Host)
	if err != nil {
		f.unavailable(w, r, err)
		return
	}

	req := strategy.NewLoginRequest()
	err = f.pending.Save(ctx, req.State, &flowstate.PendingLogin{
		Hostname:     s.Hostname,
		Nonce:        req.Nonce,
		CodeVerifier: req.CodeVerifier,
		ReturnURL:    safeReturnURL(r.URL.Query().Get("returnTo")),
		CreatedAt:    flowstate.NowTimeFunc(),
	})
	if err != nil {
		log.Err(err).Msg("Failed to save pending login")
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	authURL, err := s.AuthCodeURL(ctx, req)
	if err != nil {
		f.unavailable(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    req.State,
		Path:     "/",
		HttpOnly: true,
		Secure:   sessions.Scheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(flowstate.DefaultTTL.Seconds()),
	})
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the login: it checks the state, exchanges the code,
// persists the user and the session and redirects into the application.
// Any callback failure sends the user back to login.
func (f *ProviderFlow) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	clearStateCookie(w, r)

	if providerErr := q.Get("error"); providerErr != "" {
		log.Warn().Str("error", providerErr).Str("description", q.Get("error_description")).Msg("Identity provider returned an error")
		http.Redirect(w, r, LoginPath, http.StatusFound)
		return
	}

	state := q.Get("state")
	if cookie, err := r.Cookie(StateCookieName); err != nil || cookie.Value == "" || cookie.Value != state {
		log.Warn().Msg("Callback state does not match the browser")
		http.Redirect(w, r, LoginPath, http.StatusFound)
		return
	}

	pending, err := f.pending.Consume(ctx, state)
	if err != nil {
		log.Warn().Err(err).Msg("Callback for unknown login")
		http.Redirect(w, r, LoginPath, http.StatusFound)
		return
	}
	if pending.Hostname != strategy.NormalizeHost(r.Host) {
		log.Warn().Str("expected", pending.Hostname).Str("host", r.Host).Msg("Callback arrived on a different host")
		http.Redirect(w, r, LoginPath, http.StatusFound)
		return
	}

	s, err := f.registry.Ensure(ctx, r.Host)
	if err != nil {
		f.unavailable(w, r, err)
		return
	}

	tokens, err := s.Exchange(ctx, q.Get("code"), strategy.LoginRequest{
		State:        state,
		Nonce:        pending.Nonce,
		CodeVerifier: pending.CodeVerifier,
	})
	if err != nil {
		log.Err(err).Str("host", s.Hostname).Msg("Login failed")
		http.Redirect(w, r, LoginPath, http.StatusFound)
		return
	}

	if err := f.establish(ctx, w, r, tokens); err != nil {
		log.Err(err).Str("sub", tokens.Claims.Subject).Msg("Failed to establish session")
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	log.Info().Str("sub", tokens.Claims.Subject).Str("host", s.Hostname).Msg("Login")
	returnURL := pending.ReturnURL
	if returnURL == "" {
		returnURL = "/"
	}
	http.Redirect(w, r, returnURL, http.StatusFound)
}

// Logout destroys the session and sends the browser to the provider's
// end-session endpoint, which returns it to this host.
func (f *ProviderFlow) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, hadSession := f.destroy(ctx, w, r)

	strat, err := f.registry.Ensure(ctx, r.Host)
	if err != nil {
		log.Err(err).Str("host", r.Host).Msg("Provider logout unavailable")
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	if hadSession && s.HasRefreshToken() {
		if err := strat.Revoke(ctx, s.RefreshToken, "refresh_token"); err != nil {
			log.Warn().Err(err).Msg("Failed to revoke refresh token")
		}
	}

	postLogout := fmt.Sprintf("%s://%s", sessions.Scheme(r), r.Host)
	if endSession := strat.EndSessionURL(ctx, postLogout); endSession != "" {
		http.Redirect(w, r, endSession, http.StatusFound)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func clearStateCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   sessions.Scheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// unavailable fails a login closed. Provider outages are 503 so clients and
// load balancers can tell them from bugs.
func (f *ProviderFlow) unavailable(w http.ResponseWriter, r *http.Request, err error) {
	log.Err(err).Str("host", r.Host).Msg("Login unavailable")
	if IsUnavailable(err) {
		writeError(w, http.StatusServiceUnavailable, "Authentication is temporarily unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "Login failed")
}

// IsUnavailable reports whether err means the provider could not be reached.
func IsUnavailable(err error) bool {
	return apperrors.Is(err, apperrors.ErrStrategyUnavailable) || apperrors.Is(err, apperrors.ErrConfigUnavailable)
}
