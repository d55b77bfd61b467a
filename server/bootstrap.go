package server

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-solar-auth/auth"
	"github.com/jrsteele09/go-solar-auth/auth/flowstate"
	"github.com/jrsteele09/go-solar-auth/internal/config"
	"github.com/jrsteele09/go-solar-auth/internal/metrics"
	"github.com/jrsteele09/go-solar-auth/internal/postgres"
	"github.com/jrsteele09/go-solar-auth/provider"
	"github.com/jrsteele09/go-solar-auth/sessions"
	"github.com/jrsteele09/go-solar-auth/strategy"
	"github.com/jrsteele09/go-solar-auth/token"
	"github.com/jrsteele09/go-solar-auth/users"
)

// backends are the storage clients opened for the configured store kind
type backends struct {
	store   sessions.Store
	users   users.Repo
	pinger  sessions.Pinger
	redis   redis.UniversalClient
	pool    *pgxpool.Pool
	closers []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// Bootstrap resolves the auth mode once and wires the matching components.
// The returned cleanup closes the storage clients.
func Bootstrap(ctx context.Context, cfg config.Config, registry *prometheus.Registry) (*Server, func(), error) {
	mode, err := auth.ResolveMode(auth.ModeSettings{
		Requested:  cfg.GetAuthMode(),
		IssuerURL:  cfg.GetIssuerURL(),
		ClientID:   cfg.GetClientID(),
		Production: cfg.IsProduction(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("[Bootstrap] failed to resolve auth mode: %w", err)
	}

	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	collectors := metrics.New(registry)

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("[Bootstrap] failed to open storage: %w", err)
	}

	cookies := sessions.NewCookies(cfg.GetSessionSecret(), cfg.GetSessionTTL(), cfg.GetSecureCookies())
	deps := Deps{
		Mode:    mode,
		Cookies: cookies,
		Users:   b.users,
		Store:   b.pinger,
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	switch mode {
	case auth.ModeProvider:
		cache := provider.NewCache(provider.Settings{
			IssuerURL:    cfg.GetIssuerURL(),
			ClientID:     cfg.GetClientID(),
			ClientSecret: cfg.GetClientSecret(),
			Scopes:       cfg.GetScopes(),
			Window:       cfg.GetDiscoveryTTL(),
			RetryWindow:  cfg.GetDiscoveryRetry(),
		}, provider.WithMetrics(collectors))

		// Warm the cache; a provider outage at boot only fails logins until it recovers
		if _, err := cache.Get(ctx); err != nil {
			log.Warn().Err(err).Msg("Identity provider discovery failed at startup")
		}

		manager := token.NewManager(strategy.NewRefresher(cache, cfg.GetRefreshTimeout()), collectors)
		deps.Guard = auth.NewProviderGuard(b.store, manager, collectors)
		deps.Flow = auth.NewProviderFlow(strategy.NewRegistry(cache, collectors), pendingLogins(b), b.store, b.users, cookies)
	default:
		deps.Guard = auth.NewLocalGuard(b.store, collectors)
		deps.Flow = auth.NewLocalFlow(b.store, b.users, cookies)
	}

	log.Info().
		Str("mode", mode.String()).
		Str("session_store", cfg.GetSessionStore()).
		Msg("Authentication configured")

	return New(cfg, deps), b.close, nil
}

func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}

	if dsn := cfg.GetDatabaseURL(); dsn != "" {
		pool, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		b.pool = pool
		b.closers = append(b.closers, pool.Close)
		b.users = users.NewPostgresRepo(pool)
	} else {
		b.users = users.NewMemoryRepo()
	}

	switch cfg.GetSessionStore() {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			b.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		b.redis = client
		b.closers = append(b.closers, func() { _ = client.Close() })
		store := sessions.NewRedisStore(client, cfg.GetRedisKeyPrefix())
		b.store, b.pinger = store, store
	case config.StorePostgres:
		if b.pool == nil {
			return nil, fmt.Errorf("postgres session store requires DATABASE_URL")
		}
		b.store, b.pinger = sessions.NewPostgresStore(b.pool), b.pool
	default:
		b.store = sessions.NewMemoryStore()
	}
	return b, nil
}

// pendingLogins shares pending logins across replicas when Redis is available.
func pendingLogins(b *backends) flowstate.Repo {
	if b.redis != nil {
		return flowstate.NewRedisRepo(b.redis, "", flowstate.DefaultTTL)
	}
	return flowstate.NewInMemoryRepo(flowstate.DefaultTTL)
}
