package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func freezeServerTime(t *testing.T, now time.Time) *time.Time {
	t.Helper()
	clock := now
	original := NowTimeFunc
	NowTimeFunc = func() time.Time { return clock }
	t.Cleanup(func() { NowTimeFunc = original })
	return &clock
}

func TestLoginLimiter(t *testing.T) {
	clock := freezeServerTime(t, time.Unix(1_700_000_000, 0))
	l := newLoginLimiter(5, 15*time.Minute)

	for i := 0; i < 5; i++ {
		ok, _ := l.allow("192.0.2.1")
		require.True(t, ok, "attempt %d", i+1)
	}
	ok, wait := l.allow("192.0.2.1")
	require.False(t, ok)
	require.Equal(t, 15*time.Minute, wait)

	// Other clients have their own budget
	ok, _ = l.allow("192.0.2.2")
	require.True(t, ok)

	// Nothing is regained before the window ends
	*clock = clock.Add(14 * time.Minute)
	ok, wait = l.allow("192.0.2.1")
	require.False(t, ok)
	require.Equal(t, time.Minute, wait)

	// A new window starts with a full budget
	*clock = clock.Add(time.Minute)
	for i := 0; i < 5; i++ {
		ok, _ := l.allow("192.0.2.1")
		require.True(t, ok, "attempt %d in second window", i+1)
	}
	ok, _ = l.allow("192.0.2.1")
	require.False(t, ok)

	// Clients whose window has ended are evicted
	*clock = clock.Add(16 * time.Minute)
	ok, _ = l.allow("192.0.2.3")
	require.True(t, ok)
	require.Equal(t, 1, l.size())
}

func TestLoginLimiter_SteadyAttemptsWithinOneWindow(t *testing.T) {
	clock := freezeServerTime(t, time.Unix(1_700_000_000, 0))
	l := newLoginLimiter(5, 15*time.Minute)

	// Ten attempts a minute for the whole window
	allowed := 0
	for i := 0; i < 150; i++ {
		if ok, _ := l.allow("192.0.2.1"); ok {
			allowed++
		}
		*clock = clock.Add(6 * time.Second)
	}
	require.Equal(t, 5, allowed)
}

func TestNewLoginLimiter_Disabled(t *testing.T) {
	require.Nil(t, newLoginLimiter(0, time.Minute))
	require.Nil(t, newLoginLimiter(5, 0))
}

func TestLoginRateLimitMiddleware(t *testing.T) {
	freezeServerTime(t, time.Unix(1_700_000_000, 0))
	s := bootstrap(t, map[string]any{"LOGIN_RATE_LIMIT": 2, "LOGIN_RATE_WINDOW": "1m"})

	login := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, RouteLogin, nil)
		req.RemoteAddr = remoteAddr
		return serve(s, req)
	}

	require.Equal(t, http.StatusFound, login("198.51.100.7:1111").Code)
	require.Equal(t, http.StatusFound, login("198.51.100.7:2222").Code)

	rec := login("198.51.100.7:3333")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))
	require.JSONEq(t, `{"message":"Too many login attempts, please try again later"}`, rec.Body.String())

	require.Equal(t, http.StatusFound, login("203.0.113.9:1111").Code)

	// Only logins are limited
	req := httptest.NewRequest(http.MethodGet, RouteHealth, nil)
	req.RemoteAddr = "198.51.100.7:4444"
	require.Equal(t, http.StatusOK, serve(s, req).Code)
}
