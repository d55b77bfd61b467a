package auth_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-solar-auth/auth"
	"github.com/jrsteele09/go-solar-auth/identity"
	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
	"github.com/jrsteele09/go-solar-auth/internal/metrics"
	"github.com/jrsteele09/go-solar-auth/internal/oidctest"
	"github.com/jrsteele09/go-solar-auth/provider"
	"github.com/jrsteele09/go-solar-auth/sessions"
	"github.com/jrsteele09/go-solar-auth/strategy"
	"github.com/jrsteele09/go-solar-auth/token"
)

const sessionTTL = 7 * 24 * time.Hour

type countingRefresher struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (c *countingRefresher) Refresh(context.Context, string) (identity.Tokens, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	exp := time.Now().Add(time.Hour)
	return identity.Tokens{
		Claims:      identity.Claims{Subject: "user-123", Email: "jane@example.com", ExpiresAt: exp.Unix()},
		AccessToken: "access-refreshed",
		Expiry:      exp,
	}, nil
}

// noOutboundTransport fails the test if anything performs an HTTP request
// through the default transport.
func noOutboundTransport(t *testing.T) {
	t.Helper()
	original := http.DefaultTransport
	http.DefaultTransport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		t.Errorf("unexpected outbound request to %s", r.URL)
		return nil, http.ErrNotSupported
	})
	t.Cleanup(func() { http.DefaultTransport = original })
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func storedSession(t *testing.T, store sessions.Store, expiresAt time.Time, refreshToken string) string {
	t.Helper()
	s := sessions.Session{
		Claims:       identity.Claims{Subject: "user-123", Email: "jane@example.com"},
		AccessToken:  "access-original",
		RefreshToken: refreshToken,
		CreatedAt:    time.Now().Unix(),
	}
	if !expiresAt.IsZero() {
		s.Claims.ExpiresAt = expiresAt.Unix()
		s.ExpiresAt = expiresAt.Unix()
	}
	id := sessions.NewID()
	require.NoError(t, store.Create(context.Background(), id, s, sessionTTL))
	return id
}

func oidcRefresher(t *testing.T) (*oidctest.Provider, *strategy.Refresher) {
	t.Helper()
	idp := oidctest.NewProvider(t)
	cache := provider.NewCache(provider.Settings{
		IssuerURL:    idp.Issuer(),
		ClientID:     idp.ClientID,
		ClientSecret: idp.ClientSecret,
	})
	return idp, strategy.NewRefresher(cache, 0)
}

func TestLocalGuard(t *testing.T) {
	noOutboundTransport(t)
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	guard := auth.NewLocalGuard(store, nil)
	require.Equal(t, auth.ModeLocal, guard.Mode())

	t.Run("any stored session is accepted", func(t *testing.T) {
		for _, expiresAt := range []time.Time{{}, time.Now().Add(-time.Hour), time.Now().Add(time.Hour)} {
			id := storedSession(t, store, expiresAt, "")
			s, err := guard.Authorize(ctx, id)
			require.NoError(t, err)
			require.Equal(t, "user-123", s.Claims.Subject)
		}
	})

	t.Run("missing session", func(t *testing.T) {
		_, err := guard.Authorize(ctx, "")
		require.ErrorIs(t, err, apperrors.ErrUnauthenticated)

		_, err = guard.Authorize(ctx, "unknown")
		require.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	})
}

func TestProviderGuard_ValidSessionSkipsProvider(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	refresher := &countingRefresher{}
	guard := auth.NewProviderGuard(store, token.NewManager(refresher, nil), nil)

	id := storedSession(t, store, time.Now().Add(time.Hour), "refresh-1")
	s, err := guard.Authorize(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "access-original", s.AccessToken)
	require.Equal(t, int32(0), refresher.calls.Load())
}

func TestProviderGuard_RefreshesExpiredSession(t *testing.T) {
	ctx := context.Background()
	idp, refresher := oidcRefresher(t)
	store := sessions.NewMemoryStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	guard := auth.NewProviderGuard(store, token.NewManager(refresher, m), m)

	refreshToken := idp.IssueRefreshToken()
	expired := time.Now().Add(-time.Minute)
	id := storedSession(t, store, expired, refreshToken)

	s, err := guard.Authorize(ctx, id)
	require.NoError(t, err)
	require.NotEqual(t, "access-original", s.AccessToken)
	require.Equal(t, refreshToken, s.RefreshToken)
	exp, ok := s.Expiry()
	require.True(t, ok)
	require.True(t, exp.After(expired))

	// The refreshed tokens were written back
	persisted, err := store.Read(ctx, id)
	require.NoError(t, err)
	require.Equal(t, s, persisted)
	require.Equal(t, int64(1), idp.RefreshCalls.Load())
	require.Equal(t, 1.0, testutil.ToFloat64(m.GuardDecisions.WithLabelValues(metrics.DecisionRefreshed)))

	// The next request finds valid tokens and does not refresh again
	_, err = guard.Authorize(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(1), idp.RefreshCalls.Load())
}

func TestProviderGuard_RejectedRefreshDestroysSession(t *testing.T) {
	ctx := context.Background()
	idp, refresher := oidcRefresher(t)
	idp.FailRefresh(true)
	store := sessions.NewMemoryStore()
	guard := auth.NewProviderGuard(store, token.NewManager(refresher, nil), nil)

	id := storedSession(t, store, time.Now().Add(-time.Minute), idp.IssueRefreshToken())

	_, err := guard.Authorize(ctx, id)
	require.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	require.ErrorIs(t, err, apperrors.ErrRefreshFailed)

	_, err = store.Read(ctx, id)
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestProviderGuard_RejectsUnrefreshableSessions(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	refresher := &countingRefresher{}
	guard := auth.NewProviderGuard(store, token.NewManager(refresher, nil), nil)

	tests := []struct {
		name      string
		expiresAt time.Time
		refresh   string
		wantErr   error
	}{
		{"no expiry", time.Time{}, "refresh-1", apperrors.ErrMissingExpiry},
		{"expired without refresh token", time.Now().Add(-time.Minute), "", apperrors.ErrNoRefreshToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := storedSession(t, store, tt.expiresAt, tt.refresh)
			_, err := guard.Authorize(ctx, id)
			require.ErrorIs(t, err, apperrors.ErrUnauthenticated)
			require.ErrorIs(t, err, tt.wantErr)

			_, err = store.Read(ctx, id)
			require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
		})
	}
	require.Equal(t, int32(0), refresher.calls.Load())
}

func TestProviderGuard_ConcurrentRequestsShareOneRefresh(t *testing.T) {
	store := sessions.NewMemoryStore()
	refresher := &countingRefresher{gate: make(chan struct{})}
	guard := auth.NewProviderGuard(store, token.NewManager(refresher, nil), nil)
	id := storedSession(t, store, time.Now().Add(-time.Minute), "refresh-1")

	const requests = 10
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := guard.Authorize(context.Background(), id)
			require.NoError(t, err)
			require.Equal(t, "access-refreshed", s.AccessToken)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(refresher.gate)
	wg.Wait()

	require.Equal(t, int32(1), refresher.calls.Load())
}

func TestProviderGuard_SessionDestroyedDuringRefresh(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	refresher := &countingRefresher{gate: make(chan struct{})}
	guard := auth.NewProviderGuard(store, token.NewManager(refresher, nil), nil)
	id := storedSession(t, store, time.Now().Add(-time.Minute), "refresh-1")

	done := make(chan error, 1)
	go func() {
		_, err := guard.Authorize(ctx, id)
		done <- err
	}()

	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, store.Destroy(ctx, id))
	close(refresher.gate)

	require.ErrorIs(t, <-done, apperrors.ErrUnauthenticated)
	_, err := store.Read(ctx, id)
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

// unavailableStore fails reads or writes as a store whose backend is down would
type unavailableStore struct {
	*sessions.MemoryStore
	failReads  bool
	failWrites bool
}

func (s *unavailableStore) Read(ctx context.Context, id string) (sessions.Session, error) {
	if s.failReads {
		return sessions.Session{}, errors.New("connection refused")
	}
	return s.MemoryStore.Read(ctx, id)
}

func (s *unavailableStore) Write(ctx context.Context, id string, session sessions.Session) error {
	if s.failWrites {
		return errors.New("connection refused")
	}
	return s.MemoryStore.Write(ctx, id, session)
}

func TestGuard_StoreFailuresAreRecorded(t *testing.T) {
	ctx := context.Background()

	t.Run("read failure", func(t *testing.T) {
		store := &unavailableStore{MemoryStore: sessions.NewMemoryStore()}
		id := storedSession(t, store, time.Now().Add(time.Hour), "refresh-1")
		store.failReads = true
		m := metrics.New(prometheus.NewRegistry())
		guard := auth.NewProviderGuard(store, token.NewManager(&countingRefresher{}, m), m)

		_, err := guard.Authorize(ctx, id)
		require.Error(t, err)
		require.NotErrorIs(t, err, apperrors.ErrUnauthenticated)
		require.Equal(t, 1.0, testutil.ToFloat64(m.GuardDecisions.WithLabelValues(metrics.DecisionError)))
	})

	t.Run("write failure after refresh", func(t *testing.T) {
		store := &unavailableStore{MemoryStore: sessions.NewMemoryStore(), failWrites: true}
		id := storedSession(t, store, time.Now().Add(-time.Minute), "refresh-1")
		m := metrics.New(prometheus.NewRegistry())
		guard := auth.NewProviderGuard(store, token.NewManager(&countingRefresher{}, m), m)

		_, err := guard.Authorize(ctx, id)
		require.Error(t, err)
		require.NotErrorIs(t, err, apperrors.ErrUnauthenticated)
		require.Equal(t, 1.0, testutil.ToFloat64(m.GuardDecisions.WithLabelValues(metrics.DecisionError)))
	})
}
