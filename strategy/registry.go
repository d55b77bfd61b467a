package strategy

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
	"github.com/jrsteele09/go-solar-auth/internal/metrics"
	"github.com/jrsteele09/go-solar-auth/provider"
)

// Registry holds one Strategy per hostname. Strategies are created on first
// use and never replaced; concurrent first requests for the same hostname
// share a single construction.
type Registry struct {
	configs provider.Source
	metrics *metrics.Collectors

	mu         sync.RWMutex
	strategies map[string]*Strategy
	group      singleflight.Group

	// build constructs a strategy for a normalized hostname
	build func(ctx context.Context, hostname string) (*Strategy, error)
}

// NewRegistry creates an empty registry backed by the provider configuration cache.
func NewRegistry(configs provider.Source, m *metrics.Collectors) *Registry {
	r := &Registry{
		configs:    configs,
		metrics:    m,
		strategies: make(map[string]*Strategy),
	}
	r.build = r.buildStrategy
	return r
}

// NormalizeHost lower-cases a request host and strips any port.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}

// Ensure returns the strategy for hostname, constructing and registering it
// when none exists. When the provider configuration cannot be obtained
// nothing is registered and an ErrStrategyUnavailable error is returned.
func (r *Registry) Ensure(ctx context.Context, hostname string) (*Strategy, error) {
	host := NormalizeHost(hostname)
	if host == "" {
		return nil, fmt.Errorf("%w: empty hostname", apperrors.ErrStrategyUnavailable)
	}

	if s, ok := r.Lookup(host); ok {
		return s, nil
	}

	v, err, _ := r.group.Do(host, func() (interface{}, error) {
		if s, ok := r.Lookup(host); ok {
			return s, nil
		}

		s, err := r.build(ctx, host)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.strategies[host] = s
		r.mu.Unlock()

		r.metrics.ObserveStrategyRegistered()
		log.Info().Str("strategy", s.Name).Str("callback", s.CallbackURL).Msg("Registered authentication strategy")
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Strategy), nil
}

// Lookup returns an already registered strategy without constructing one.
func (r *Registry) Lookup(hostname string) (*Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[NormalizeHost(hostname)]
	return s, ok
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies)
}

func (r *Registry) buildStrategy(ctx context.Context, hostname string) (*Strategy, error) {
	if _, err := r.configs.Get(ctx); err != nil {
		log.Err(err).Str("host", hostname).Msg("Cannot register authentication strategy")
		return nil, apperrors.WithKind(apperrors.ErrStrategyUnavailable, err)
	}
	return newStrategy(hostname, r.configs), nil
}
