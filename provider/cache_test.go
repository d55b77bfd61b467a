package provider_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
	"github.com/jrsteele09/go-solar-auth/internal/metrics"
	"github.com/jrsteele09/go-solar-auth/internal/oidctest"
	"github.com/jrsteele09/go-solar-auth/provider"
)

func freezeProviderTime(t *testing.T, now time.Time) *atomic.Pointer[time.Time] {
	t.Helper()
	var clock atomic.Pointer[time.Time]
	clock.Store(&now)
	original := provider.NowTimeFunc
	provider.NowTimeFunc = func() time.Time { return *clock.Load() }
	t.Cleanup(func() { provider.NowTimeFunc = original })
	return &clock
}

func advance(clock *atomic.Pointer[time.Time], d time.Duration) {
	next := clock.Load().Add(d)
	clock.Store(&next)
}

func settingsFor(idp *oidctest.Provider) provider.Settings {
	return provider.Settings{
		IssuerURL:    idp.Issuer(),
		ClientID:     idp.ClientID,
		ClientSecret: idp.ClientSecret,
		Window:       time.Hour,
		RetryWindow:  10 * time.Second,
	}
}

func TestCache_Get(t *testing.T) {
	ctx := context.Background()
	clock := freezeProviderTime(t, time.Unix(1_700_000_000, 0))
	idp := oidctest.NewProvider(t)
	cache := provider.NewCache(settingsFor(idp))

	cfg, err := cache.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, idp.Issuer(), cfg.Issuer)
	require.Equal(t, idp.Issuer()+"/token", cfg.Endpoint.TokenURL)
	require.Equal(t, idp.Issuer()+"/logout", cfg.EndSessionURL)
	require.Equal(t, idp.Issuer()+"/revoke", cfg.RevocationURL)
	require.Equal(t, provider.DefaultScopes, cfg.Scopes)
	require.Equal(t, oauth2.AuthStyleInHeader, cfg.Endpoint.AuthStyle)

	t.Run("memoized within the window", func(t *testing.T) {
		advance(clock, 59*time.Minute)
		again, err := cache.Get(ctx)
		require.NoError(t, err)
		require.Same(t, cfg, again)
		require.Equal(t, int64(1), idp.DiscoveryCalls.Load())
	})

	t.Run("refetched after the window", func(t *testing.T) {
		advance(clock, 2*time.Minute)
		refreshed, err := cache.Get(ctx)
		require.NoError(t, err)
		require.NotSame(t, cfg, refreshed)
		require.Equal(t, int64(2), idp.DiscoveryCalls.Load())
	})
}

func TestCache_ConcurrentCallersShareOneDiscovery(t *testing.T) {
	freezeProviderTime(t, time.Unix(1_700_000_000, 0))
	idp := oidctest.NewProvider(t)

	var calls atomic.Int32
	gate := make(chan struct{})
	cache := provider.NewCache(settingsFor(idp), provider.WithDiscoverer(func(ctx context.Context, issuer string) (*oidc.Provider, error) {
		calls.Add(1)
		<-gate
		return oidc.NewProvider(ctx, issuer)
	}))

	const callers = 25
	var wg sync.WaitGroup
	results := make([]*provider.Config, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg, err := cache.Get(context.Background())
			require.NoError(t, err)
			results[i] = cfg
		}(i)
	}

	// Give the callers time to pile up on the in-flight discovery
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for _, cfg := range results {
		require.Same(t, results[0], cfg)
	}
}

func TestCache_FailureIsNotCachedBeyondRetryWindow(t *testing.T) {
	ctx := context.Background()
	clock := freezeProviderTime(t, time.Unix(1_700_000_000, 0))
	idp := oidctest.NewProvider(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var calls atomic.Int32
	var failing atomic.Bool
	failing.Store(true)
	cache := provider.NewCache(settingsFor(idp), provider.WithMetrics(m), provider.WithDiscoverer(func(ctx context.Context, issuer string) (*oidc.Provider, error) {
		calls.Add(1)
		if failing.Load() {
			return nil, errors.New("connection refused")
		}
		return oidc.NewProvider(ctx, issuer)
	}))

	_, err := cache.Get(ctx)
	require.ErrorIs(t, err, apperrors.ErrConfigUnavailable)
	require.Equal(t, int32(1), calls.Load())

	// Within the retry window the failure is reported without another request
	advance(clock, 5*time.Second)
	_, err = cache.Get(ctx)
	require.ErrorIs(t, err, apperrors.ErrConfigUnavailable)
	require.Equal(t, int32(1), calls.Load())

	// After it, discovery is attempted again
	failing.Store(false)
	advance(clock, 6*time.Second)
	cfg, err := cache.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Equal(t, int32(2), calls.Load())

	require.Equal(t, 1.0, testutil.ToFloat64(m.Discovery.WithLabelValues(metrics.OutcomeFailure)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Discovery.WithLabelValues(metrics.OutcomeSuccess)))
}

func TestCache_CallerCancellationDoesNotAbortDiscovery(t *testing.T) {
	freezeProviderTime(t, time.Unix(1_700_000_000, 0))
	idp := oidctest.NewProvider(t)

	var sawCancelled atomic.Bool
	cache := provider.NewCache(settingsFor(idp), provider.WithDiscoverer(func(ctx context.Context, issuer string) (*oidc.Provider, error) {
		if ctx.Err() != nil {
			sawCancelled.Store(true)
		}
		return oidc.NewProvider(ctx, issuer)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cache.Get(ctx)
	require.NoError(t, err)
	require.False(t, sawCancelled.Load())
}

func TestConfig_BuildEndSessionURL(t *testing.T) {
	freezeProviderTime(t, time.Unix(1_700_000_000, 0))
	idp := oidctest.NewProvider(t)
	cfg, err := provider.NewCache(settingsFor(idp)).Get(context.Background())
	require.NoError(t, err)

	u := cfg.BuildEndSessionURL("https://solar.example.com")
	require.Contains(t, u, idp.Issuer()+"/logout?")
	require.Contains(t, u, "client_id="+idp.ClientID)
	require.Contains(t, u, "post_logout_redirect_uri=https%3A%2F%2Fsolar.example.com")

	oc := cfg.OAuth2("https://solar.example.com/api/callback")
	oc.Scopes[0] = "mutated"
	require.Equal(t, "openid", cfg.Scopes[0])
}
