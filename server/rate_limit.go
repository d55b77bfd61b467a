package server

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

type visitor struct {
	limiter     *rate.Limiter
	windowStart time.Time
}

// loginLimiter allows a number of login attempts per client IP in fixed
// windows that start with a client's first attempt. Visitors whose window has
// ended are evicted lazily while handling later attempts.
type loginLimiter struct {
	mu        sync.Mutex
	attempts  int
	window    time.Duration
	visitors  map[string]*visitor
	lastSweep time.Time
}

// newLoginLimiter returns nil when attempts is not positive, which disables limiting.
func newLoginLimiter(attempts int, window time.Duration) *loginLimiter {
	if attempts <= 0 || window <= 0 {
		return nil
	}
	return &loginLimiter{
		attempts: attempts,
		window:   window,
		visitors: make(map[string]*visitor),
	}
}

// allow records an attempt from ip and returns how long until its window
// resets when the attempt is refused.
func (l *loginLimiter) allow(ip string) (bool, time.Duration) {
	now := NowTimeFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.window {
		for key, v := range l.visitors {
			if now.Sub(v.windowStart) >= l.window {
				delete(l.visitors, key)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[ip]
	if !ok || now.Sub(v.windowStart) >= l.window {
		// The bucket refills once per window, so it never regains a token
		// before the window is replaced
		v = &visitor{limiter: rate.NewLimiter(rate.Every(l.window), l.attempts), windowStart: now}
		l.visitors[ip] = v
	}

	if !v.limiter.AllowN(now, 1) {
		return false, v.windowStart.Add(l.window).Sub(now)
	}
	return true, 0
}

func (l *loginLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// LoginRateLimitMiddleware refuses login attempts over the configured rate
// with 429 and a Retry-After header.
func (s *Server) LoginRateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		if ok, wait := s.limiter.allow(ip); !ok {
			log.Warn().Str("ip", ip).Dur("retry_after", wait).Msg("Login rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Truncate(time.Millisecond).Seconds()))))
			writeJSON(w, http.StatusTooManyRequests, messageResponse{Message: "Too many login attempts, please try again later"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the remote address after RealIP has applied proxy headers.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
