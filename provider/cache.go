package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
	"github.com/jrsteele09/go-solar-auth/internal/metrics"
)

const (
	// DefaultWindow is how long fetched discovery metadata stays fresh.
	DefaultWindow = time.Hour
	// DefaultRetryWindow is how long a failed discovery is reported before retrying.
	DefaultRetryWindow = 10 * time.Second
	// discoveryTimeout bounds a single discovery request.
	discoveryTimeout = 15 * time.Second

	flightKey = "discovery"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Settings identify the provider and this application's client registration.
type Settings struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Window       time.Duration
	RetryWindow  time.Duration
}

// Discoverer fetches the provider's discovery document.
type Discoverer func(ctx context.Context, issuer string) (*oidc.Provider, error)

// Source is anything that can hand out the current provider configuration.
type Source interface {
	Get(ctx context.Context) (*Config, error)
}

// Cache memoizes discovery metadata for a freshness window. Concurrent callers
// that find the value stale share a single in-flight discovery request.
type Cache struct {
	settings   Settings
	discover   Discoverer
	httpClient *http.Client
	metrics    *metrics.Collectors

	mu        sync.RWMutex
	value     *Config
	fetchedAt time.Time
	lastErr   error
	failedAt  time.Time

	group singleflight.Group
}

var _ Source = (*Cache)(nil)

// Option configures a Cache.
type Option func(*Cache)

// WithDiscoverer replaces go-oidc discovery, mainly for tests.
func WithDiscoverer(d Discoverer) Option {
	return func(c *Cache) { c.discover = d }
}

// WithHTTPClient sets the client used for discovery and key fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) { c.httpClient = client }
}

// WithMetrics records discovery outcomes.
func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Cache) { c.metrics = m }
}

// NewCache creates a discovery cache. No network call is made until Get.
func NewCache(settings Settings, opts ...Option) *Cache {
	if settings.Window <= 0 {
		settings.Window = DefaultWindow
	}
	if settings.RetryWindow < 0 {
		settings.RetryWindow = 0
	}
	c := &Cache{
		settings: settings,
		discover: oidc.NewProvider,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached configuration, fetching it when it is missing or
// older than the freshness window. A failed fetch is reported to every caller
// within the retry window and then retried; a failure never replaces a value.
func (c *Cache) Get(ctx context.Context) (*Config, error) {
	if cfg, ok, err := c.cached(NowTimeFunc()); ok {
		return cfg, err
	}

	v, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		// Another flight may have completed while this caller was waiting
		if cfg, ok, err := c.cached(NowTimeFunc()); ok {
			return cfg, err
		}
		return c.fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Config), nil
}

// Settings returns the settings the cache was created with.
func (c *Cache) Settings() Settings {
	return c.settings
}

func (c *Cache) cached(now time.Time) (*Config, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.value != nil && now.Sub(c.fetchedAt) <= c.settings.Window {
		return c.value, true, nil
	}
	if c.lastErr != nil && now.Sub(c.failedAt) < c.settings.RetryWindow {
		return nil, true, c.lastErr
	}
	return nil, false, nil
}

func (c *Cache) fetch(ctx context.Context) (*Config, error) {
	// The flight is shared by every waiting request, so it must not be
	// cancelled by whichever request happened to start it.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discoveryTimeout)
	defer cancel()
	if c.httpClient != nil {
		fetchCtx = oidc.ClientContext(fetchCtx, c.httpClient)
	}

	p, err := c.discover(fetchCtx, c.settings.IssuerURL)
	if err == nil {
		var cfg *Config
		if cfg, err = newConfig(p, c.settings); err == nil {
			c.mu.Lock()
			c.value = cfg
			c.fetchedAt = NowTimeFunc()
			c.lastErr = nil
			c.mu.Unlock()

			c.metrics.ObserveDiscovery(metrics.OutcomeSuccess)
			log.Info().Str("issuer", c.settings.IssuerURL).Msg("Identity provider discovery complete")
			return cfg, nil
		}
	}

	wrapped := fmt.Errorf("%w: discovery of %s: %w", apperrors.ErrConfigUnavailable, c.settings.IssuerURL, err)
	c.mu.Lock()
	c.lastErr = wrapped
	c.failedAt = NowTimeFunc()
	c.mu.Unlock()

	c.metrics.ObserveDiscovery(metrics.OutcomeFailure)
	log.Err(err).Str("issuer", c.settings.IssuerURL).Msg("Identity provider discovery failed")
	return nil, wrapped
}
