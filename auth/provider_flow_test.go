package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-solar-auth/auth"
	"github.com/jrsteele09/go-solar-auth/auth/flowstate"
	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
	"github.com/jrsteele09/go-solar-auth/internal/oidctest"
	"github.com/jrsteele09/go-solar-auth/provider"
	"github.com/jrsteele09/go-solar-auth/sessions"
	"github.com/jrsteele09/go-solar-auth/strategy"
	"github.com/jrsteele09/go-solar-auth/users"
)

type providerFixture struct {
	idp     *oidctest.Provider
	flow    *auth.ProviderFlow
	store   *sessions.MemoryStore
	users   *users.MemoryRepo
	pending *flowstate.InMemoryRepo
	cookies *sessions.Cookies
}

func setupProviderFlow(t *testing.T) *providerFixture {
	t.Helper()
	idp := oidctest.NewProvider(t)
	cache := provider.NewCache(provider.Settings{
		IssuerURL:    idp.Issuer(),
		ClientID:     idp.ClientID,
		ClientSecret: idp.ClientSecret,
	})
	f := &providerFixture{
		idp:     idp,
		store:   sessions.NewMemoryStore(),
		users:   users.NewMemoryRepo(),
		pending: flowstate.NewInMemoryRepo(0),
		cookies: sessions.NewCookies(testSecret, sessionTTL, false),
	}
	f.flow = auth.NewProviderFlow(strategy.NewRegistry(cache, nil), f.pending, f.store, f.users, f.cookies)
	return f
}

// startLogin runs the login endpoint and the provider's authorization step,
// returning the callback URL and the state cookie the browser would hold.
func (f *providerFixture) startLogin(t *testing.T, target string) (string, *http.Cookie) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.flow.Login(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusFound, rec.Code)
	stateCookie := responseCookie(t, rec, auth.StateCookieName)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(rec.Header().Get("Location"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	return resp.Header.Get("Location"), stateCookie
}

func (f *providerFixture) callback(callbackURL string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, callbackURL, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.flow.Callback(rec, req)
	return rec
}

func TestProviderFlow_Login(t *testing.T) {
	f := setupProviderFlow(t)

	rec := httptest.NewRecorder()
	f.flow.Login(rec, httptest.NewRequest(http.MethodGet, "https://Solar.Example.com/api/login?returnTo=/billing", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, f.idp.Issuer()+"/authorize", location.Scheme+"://"+location.Host+location.Path)
	require.Equal(t, "https://solar.example.com/api/callback", location.Query().Get("redirect_uri"))

	stateCookie := responseCookie(t, rec, auth.StateCookieName)
	require.Equal(t, location.Query().Get("state"), stateCookie.Value)
	require.True(t, stateCookie.HttpOnly)
	require.True(t, stateCookie.Secure)
	require.Equal(t, 1, f.pending.Len())
}

func TestProviderFlow_CallbackEstablishesSession(t *testing.T) {
	ctx := context.Background()
	f := setupProviderFlow(t)

	callbackURL, stateCookie := f.startLogin(t, "https://solar.example.com/api/login?returnTo=/billing")
	rec := f.callback(callbackURL, stateCookie)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/billing", rec.Header().Get("Location"))
	require.Equal(t, -1, responseCookie(t, rec, auth.StateCookieName).MaxAge)

	id, err := f.cookies.Decode(responseCookie(t, rec, sessions.CookieName).Value)
	require.NoError(t, err)
	s, err := f.store.Read(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "user-123", s.Claims.Subject)
	require.NotEmpty(t, s.AccessToken)
	require.True(t, s.HasRefreshToken())
	_, ok := s.Expiry()
	require.True(t, ok)

	user, err := f.users.Get(ctx, "user-123")
	require.NoError(t, err)
	require.Equal(t, "jane@example.com", user.Email)
	require.Equal(t, "Jane", user.FirstName)

	t.Run("replayed callback is rejected", func(t *testing.T) {
		rec := f.callback(callbackURL, stateCookie)
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, auth.LoginPath, rec.Header().Get("Location"))
		require.Equal(t, 1, f.store.Len())
	})
}

func TestProviderFlow_CallbackFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, f *providerFixture, callbackURL string, stateCookie *http.Cookie) (string, []*http.Cookie)
	}{
		{
			name: "missing state cookie",
			mutate: func(_ *testing.T, _ *providerFixture, callbackURL string, _ *http.Cookie) (string, []*http.Cookie) {
				return callbackURL, nil
			},
		},
		{
			name: "state from another browser",
			mutate: func(_ *testing.T, _ *providerFixture, callbackURL string, _ *http.Cookie) (string, []*http.Cookie) {
				return callbackURL, []*http.Cookie{{Name: auth.StateCookieName, Value: "someone-else"}}
			},
		},
		{
			name: "provider error",
			mutate: func(_ *testing.T, _ *providerFixture, _ string, stateCookie *http.Cookie) (string, []*http.Cookie) {
				return "https://solar.example.com/api/callback?error=access_denied&state=" + stateCookie.Value, []*http.Cookie{stateCookie}
			},
		},
		{
			name: "callback on another host",
			mutate: func(t *testing.T, _ *providerFixture, callbackURL string, stateCookie *http.Cookie) (string, []*http.Cookie) {
				u, err := url.Parse(callbackURL)
				require.NoError(t, err)
				u.Host = "other.example.com"
				return u.String(), []*http.Cookie{stateCookie}
			},
		},
		{
			name: "forged code",
			mutate: func(t *testing.T, _ *providerFixture, callbackURL string, stateCookie *http.Cookie) (string, []*http.Cookie) {
				u, err := url.Parse(callbackURL)
				require.NoError(t, err)
				q := u.Query()
				q.Set("code", "code-forged")
				u.RawQuery = q.Encode()
				return u.String(), []*http.Cookie{stateCookie}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupProviderFlow(t)
			callbackURL, stateCookie := f.startLogin(t, "https://solar.example.com/api/login")

			target, cookies := tt.mutate(t, f, callbackURL, stateCookie)
			rec := f.callback(target, cookies...)
			require.Equal(t, http.StatusFound, rec.Code)
			require.Equal(t, auth.LoginPath, rec.Header().Get("Location"))
			require.Equal(t, 0, f.store.Len())
		})
	}
}

func TestProviderFlow_LoginUnavailable(t *testing.T) {
	cache := provider.NewCache(provider.Settings{IssuerURL: "https://idp.invalid", ClientID: "solar-client"},
		provider.WithDiscoverer(func(context.Context, string) (*oidc.Provider, error) {
			return nil, errors.New("dial tcp: connection refused")
		}))
	registry := strategy.NewRegistry(cache, nil)
	flow := auth.NewProviderFlow(registry, flowstate.NewInMemoryRepo(0), sessions.NewMemoryStore(), users.NewMemoryRepo(), sessions.NewCookies(testSecret, sessionTTL, false))

	rec := httptest.NewRecorder()
	flow.Login(rec, httptest.NewRequest(http.MethodGet, "https://solar.example.com/api/login", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"message":"Authentication is temporarily unavailable"}`, rec.Body.String())
	require.Equal(t, 0, registry.Len())

	require.True(t, auth.IsUnavailable(apperrors.ErrConfigUnavailable))
	require.False(t, auth.IsUnavailable(apperrors.ErrInvalidCallback))
}

func TestProviderFlow_Logout(t *testing.T) {
	ctx := context.Background()
	f := setupProviderFlow(t)

	callbackURL, stateCookie := f.startLogin(t, "https://solar.example.com/api/login")
	rec := f.callback(callbackURL, stateCookie)
	sessionCookie := responseCookie(t, rec, sessions.CookieName)
	id, err := f.cookies.Decode(sessionCookie.Value)
	require.NoError(t, err)
	s, err := f.store.Read(ctx, id)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "https://solar.example.com/api/logout", nil)
	req.AddCookie(sessionCookie)
	rec = httptest.NewRecorder()
	f.flow.Logout(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, f.idp.Issuer()+"/logout", location.Scheme+"://"+location.Host+location.Path)
	require.Equal(t, "https://solar.example.com", location.Query().Get("post_logout_redirect_uri"))
	require.Equal(t, f.idp.ClientID, location.Query().Get("client_id"))

	require.Equal(t, -1, responseCookie(t, rec, sessions.CookieName).MaxAge)
	_, err = f.store.Read(ctx, id)
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	require.Equal(t, []string{s.RefreshToken}, f.idp.Revoked())
}
