package sessions

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
)

// CookieName is the name of the cookie carrying the signed session id
const CookieName = "solar_sid"

// Cookies signs session ids into an HTTP-only, ttl bounded cookie. The cookie
// value is an HS256 token whose jti is the session id, so a tampered or
// foreign value never reaches the store.
type Cookies struct {
	secret      []byte
	ttl         time.Duration
	forceSecure bool
}

// NewCookies creates the session cookie codec. forceSecure sets the Secure flag
// regardless of the request scheme (production and platform deployments).
func NewCookies(secret string, ttl time.Duration, forceSecure bool) *Cookies {
	return &Cookies{secret: []byte(secret), ttl: ttl, forceSecure: forceSecure}
}

// TTL is the lifetime of the cookie and of the sessions it points at.
func (c *Cookies) TTL() time.Duration {
	return c.ttl
}

// Encode signs a session id.
func (c *Cookies) Encode(sessionID string) (string, error) {
	now := NowTimeFunc()
	claims := jwt.RegisteredClaims{
		ID:        sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session cookie: %w", err)
	}
	return value, nil
}

// Decode verifies a cookie value and returns the session id it carries.
func (c *Cookies) Decode(value string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(value, &claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(NowTimeFunc))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperrors.WithKind(apperrors.ErrSessionExpired, err)
		}
		return "", apperrors.WithKind(apperrors.ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return "", apperrors.ErrInvalidToken
	}
	return claims.ID, nil
}

// SessionID reads and verifies the session cookie of a request.
func (c *Cookies) SessionID(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", apperrors.ErrSessionNotFound
	}
	return c.Decode(cookie.Value)
}

// Set writes the session cookie.
func (c *Cookies) Set(w http.ResponseWriter, r *http.Request, sessionID string) error {
	value, err := c.Encode(sessionID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.ttl.Seconds()),
	})
	return nil
}

// Clear expires the session cookie in the browser.
func (c *Cookies) Clear(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (c *Cookies) secure(r *http.Request) bool {
	return c.forceSecure || Scheme(r) == "https"
}

// Scheme determines the scheme (http/https) of a request, trusting the proxy header.
func Scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
