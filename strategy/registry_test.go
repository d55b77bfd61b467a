package strategy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
	"github.com/jrsteele09/go-solar-auth/internal/metrics"
	"github.com/jrsteele09/go-solar-auth/provider"
)

type fakeSource struct {
	mu  sync.Mutex
	err error
}

func (f *fakeSource) Get(context.Context) (*provider.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Config{ClientID: "solar-client"}, nil
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"solar.example.com", "solar.example.com"},
		{"Solar.Example.COM", "solar.example.com"},
		{"solar.example.com:8443", "solar.example.com"},
		{"solar.example.com.", "solar.example.com"},
		{" localhost:8080 ", "localhost"},
		{"[::1]:8080", "::1"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, NormalizeHost(tt.in))
		})
	}
}

func TestRegistry_Ensure(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := NewRegistry(&fakeSource{}, m)

	s, err := r.Ensure(ctx, "Solar.Example.com:443")
	require.NoError(t, err)
	require.Equal(t, "oidc:solar.example.com", s.Name)
	require.Equal(t, "solar.example.com", s.Hostname)
	require.Equal(t, "https://solar.example.com/api/callback", s.CallbackURL)

	again, err := r.Ensure(ctx, "solar.example.com")
	require.NoError(t, err)
	require.Same(t, s, again)

	other, err := r.Ensure(ctx, "app.example.com")
	require.NoError(t, err)
	require.NotSame(t, s, other)
	require.Equal(t, "https://app.example.com/api/callback", other.CallbackURL)

	require.Equal(t, 2, r.Len())
	require.Equal(t, 2.0, testutil.ToFloat64(m.StrategiesRegistered))

	_, err = r.Ensure(ctx, "  ")
	require.ErrorIs(t, err, apperrors.ErrStrategyUnavailable)
}

func TestRegistry_EnsureFailsClosed(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{}
	source.fail(errors.New("issuer unreachable"))
	r := NewRegistry(source, nil)

	_, err := r.Ensure(ctx, "solar.example.com")
	require.ErrorIs(t, err, apperrors.ErrStrategyUnavailable)
	require.ErrorContains(t, err, "issuer unreachable")
	require.Equal(t, 0, r.Len())
	_, ok := r.Lookup("solar.example.com")
	require.False(t, ok)

	// A later request succeeds once the provider is reachable again
	source.fail(nil)
	s, err := r.Ensure(ctx, "solar.example.com")
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, 1, r.Len())
}

func TestRegistry_ConcurrentFirstRequestsBuildOnce(t *testing.T) {
	r := NewRegistry(&fakeSource{}, nil)

	var builds atomic.Int32
	gate := make(chan struct{})
	build := r.build
	r.build = func(ctx context.Context, hostname string) (*Strategy, error) {
		builds.Add(1)
		<-gate
		return build(ctx, hostname)
	}

	const callers = 20
	var wg sync.WaitGroup
	got := make([]*Strategy, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Ensure(context.Background(), "solar.example.com")
			require.NoError(t, err)
			got[i] = s
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	require.Equal(t, int32(1), builds.Load())
	require.Equal(t, 1, r.Len())
	for _, s := range got {
		require.Same(t, got[0], s)
	}
}
