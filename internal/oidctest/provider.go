// Package oidctest runs an in-process OpenID Connect provider for tests. It
// serves discovery, a JWKS, the authorization endpoint (redirecting straight
// back with a code), the token endpoint for the authorization_code and
// refresh_token grants, token revocation and an end-session endpoint.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jrsteele09/go-solar-auth/identity"
)

const (
	DefaultClientID     = "solar-client"
	DefaultClientSecret = "solar-secret"
	keyID               = "oidctest-key"
)

// Provider is a running test identity provider.
type Provider struct {
	Server       *httptest.Server
	ClientID     string
	ClientSecret string

	// User is the identity asserted by issued ID tokens
	User identity.Claims
	// TokenTTL is the lifetime of issued access and ID tokens
	TokenTTL time.Duration
	// RotateRefreshTokens issues a new refresh token on every refresh grant
	RotateRefreshTokens bool
	// RefreshWithoutIDToken omits the ID token from refresh responses
	RefreshWithoutIDToken bool
	// TokenAuthMethods is advertised in discovery when set and limits the
	// client authentication the token endpoint accepts
	TokenAuthMethods []string

	failRefresh atomic.Bool

	DiscoveryCalls atomic.Int64
	TokenCalls     atomic.Int64
	RefreshCalls   atomic.Int64
	RevokeCalls    atomic.Int64

	key *rsa.PrivateKey

	mu            sync.Mutex
	codes         map[string]pendingCode
	refreshTokens map[string]bool
	revoked       []string
	seq           int
}

type pendingCode struct {
	nonce         string
	challenge     string
	redirectURI   string
	challengeMode string
}

// NewProvider starts a provider that is shut down when the test ends.
func NewProvider(t testing.TB) *Provider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	p := &Provider{
		ClientID:     DefaultClientID,
		ClientSecret: DefaultClientSecret,
		User: identity.Claims{
			Subject:         "user-123",
			Email:           "jane@example.com",
			FirstName:       "Jane",
			LastName:        "Doe",
			ProfileImageURL: "https://example.com/jane.png",
		},
		TokenTTL:      time.Hour,
		key:           key,
		codes:         make(map[string]pendingCode),
		refreshTokens: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("/jwks", p.handleJWKS)
	mux.HandleFunc("/authorize", p.handleAuthorize)
	mux.HandleFunc("/token", p.handleToken)
	mux.HandleFunc("/revoke", p.handleRevoke)
	mux.HandleFunc("/logout", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

// Issuer is the issuer URL advertised in discovery.
func (p *Provider) Issuer() string {
	return p.Server.URL
}

// FailRefresh makes subsequent refresh grants return invalid_grant.
func (p *Provider) FailRefresh(fail bool) {
	p.failRefresh.Store(fail)
}

// IssueRefreshToken registers a refresh token as if it had been issued by a login.
func (p *Provider) IssueRefreshToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.newRefreshTokenLocked()
}

// Revoked returns the tokens posted to the revocation endpoint.
func (p *Provider) Revoked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

func (p *Provider) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	p.DiscoveryCalls.Add(1)
	issuer := p.Issuer()
	doc := map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/authorize",
		"token_endpoint":                        issuer + "/token",
		"jwks_uri":                              issuer + "/jwks",
		"end_session_endpoint":                  issuer + "/logout",
		"revocation_endpoint":                   issuer + "/revoke",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
		"scopes_supported":                      []string{"openid", "email", "profile", "offline_access"},
	}
	if len(p.TokenAuthMethods) > 0 {
		doc["token_endpoint_auth_methods_supported"] = p.TokenAuthMethods
	}
	writeJSON(w, http.StatusOK, doc)
}

func (p *Provider) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	pub := p.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"use": "sig",
			"kid": keyID,
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (p *Provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("client_id") != p.ClientID {
		http.Error(w, "unknown client", http.StatusBadRequest)
		return
	}
	redirectURI, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirectURI.String() == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.seq++
	code := fmt.Sprintf("code-%d", p.seq)
	p.codes[code] = pendingCode{
		nonce:         q.Get("nonce"),
		challenge:     q.Get("code_challenge"),
		challengeMode: q.Get("code_challenge_method"),
		redirectURI:   redirectURI.String(),
	}
	p.mu.Unlock()

	back := redirectURI.Query()
	back.Set("code", code)
	back.Set("state", q.Get("state"))
	redirectURI.RawQuery = back.Encode()
	http.Redirect(w, r, redirectURI.String(), http.StatusFound)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	p.TokenCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		tokenError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if !p.authenticated(r) {
		tokenError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.authorizationCodeGrant(w, r)
	case "refresh_token":
		p.refreshTokenGrant(w, r)
	default:
		tokenError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

func (p *Provider) authenticated(r *http.Request) bool {
	if id, secret, ok := r.BasicAuth(); ok {
		if !p.accepts("client_secret_basic") {
			return false
		}
		id, _ = url.QueryUnescape(id)
		secret, _ = url.QueryUnescape(secret)
		return id == p.ClientID && secret == p.ClientSecret
	}
	if !p.accepts("client_secret_post") {
		return false
	}
	return r.PostForm.Get("client_id") == p.ClientID && r.PostForm.Get("client_secret") == p.ClientSecret
}

func (p *Provider) accepts(method string) bool {
	if len(p.TokenAuthMethods) == 0 {
		return true
	}
	for _, m := range p.TokenAuthMethods {
		if m == method {
			return true
		}
	}
	return false
}

func (p *Provider) authorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")

	p.mu.Lock()
	pending, ok := p.codes[code]
	delete(p.codes, code)
	p.mu.Unlock()

	if !ok || pending.redirectURI != r.PostForm.Get("redirect_uri") {
		tokenError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	if pending.challenge != "" {
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if pending.challengeMode != "S256" || base64.RawURLEncoding.EncodeToString(sum[:]) != pending.challenge {
			tokenError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
	}

	p.mu.Lock()
	refreshToken := p.newRefreshTokenLocked()
	p.mu.Unlock()

	p.writeTokens(w, refreshToken, pending.nonce, true)
}

func (p *Provider) refreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	p.RefreshCalls.Add(1)
	if p.failRefresh.Load() {
		tokenError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	presented := r.PostForm.Get("refresh_token")
	p.mu.Lock()
	if !p.refreshTokens[presented] {
		p.mu.Unlock()
		tokenError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	refreshToken := ""
	if p.RotateRefreshTokens {
		delete(p.refreshTokens, presented)
		refreshToken = p.newRefreshTokenLocked()
	}
	p.mu.Unlock()

	p.writeTokens(w, refreshToken, "", !p.RefreshWithoutIDToken)
}

func (p *Provider) handleRevoke(w http.ResponseWriter, r *http.Request) {
	p.RevokeCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	token := r.PostForm.Get("token")
	p.mu.Lock()
	p.revoked = append(p.revoked, token)
	delete(p.refreshTokens, token)
	p.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (p *Provider) newRefreshTokenLocked() string {
	p.seq++
	token := fmt.Sprintf("refresh-%d", p.seq)
	p.refreshTokens[token] = true
	return token
}

func (p *Provider) writeTokens(w http.ResponseWriter, refreshToken, nonce string, withIDToken bool) {
	now := time.Now()
	p.mu.Lock()
	p.seq++
	accessToken := fmt.Sprintf("access-%d", p.seq)
	p.mu.Unlock()

	body := map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   int(p.TokenTTL.Seconds()),
	}
	if refreshToken != "" {
		body["refresh_token"] = refreshToken
	}
	if withIDToken {
		idToken, err := p.SignIDToken(nonce, now.Add(p.TokenTTL))
		if err != nil {
			tokenError(w, http.StatusInternalServerError, "server_error")
			return
		}
		body["id_token"] = idToken
	}
	writeJSON(w, http.StatusOK, body)
}

// SignIDToken issues an ID token for the configured user.
func (p *Provider) SignIDToken(nonce string, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":               p.Issuer(),
		"sub":               p.User.Subject,
		"aud":               p.ClientID,
		"iat":               time.Now().Unix(),
		"exp":               expiresAt.Unix(),
		"email":             p.User.Email,
		"first_name":        p.User.FirstName,
		"last_name":         p.User.LastName,
		"profile_image_url": p.User.ProfileImageURL,
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	return token.SignedString(p.key)
}

func tokenError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
