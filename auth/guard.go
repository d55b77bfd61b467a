package auth

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
	"github.com/jrsteele09/go-solar-auth/internal/metrics"
	"github.com/jrsteele09/go-solar-auth/sessions"
	"github.com/jrsteele09/go-solar-auth/token"
)

// Guard decides whether a request carrying a session may proceed.
type Guard struct {
	mode    Mode
	store   sessions.Store
	tokens  *token.Manager
	metrics *metrics.Collectors

	// refreshes collapses concurrent refreshes of the same session
	refreshes singleflight.Group
}

// NewLocalGuard accepts any stored session without expiry or refresh checks.
func NewLocalGuard(store sessions.Store, m *metrics.Collectors) *Guard {
	return &Guard{mode: ModeLocal, store: store, metrics: m}
}

// NewProviderGuard validates sessions with the token lifecycle manager,
// refreshing expired tokens and writing them back before allowing the request.
func NewProviderGuard(store sessions.Store, tokens *token.Manager, m *metrics.Collectors) *Guard {
	return &Guard{mode: ModeProvider, store: store, tokens: tokens, metrics: m}
}

// Mode returns the mode the guard was built for.
func (g *Guard) Mode() Mode {
	return g.mode
}

// Authorize returns the session to use for the request. Every rejection
// matches ErrUnauthenticated; other errors are store failures.
func (g *Guard) Authorize(ctx context.Context, sessionID string) (sessions.Session, error) {
	if sessionID == "" {
		g.metrics.ObserveGuard(metrics.DecisionReject)
		return sessions.Session{}, apperrors.ErrUnauthenticated
	}

	s, err := g.read(ctx, sessionID)
	if err != nil {
		return sessions.Session{}, err
	}

	if g.mode == ModeLocal || g.tokens.State(s) == token.Valid {
		g.metrics.ObserveGuard(metrics.DecisionAllow)
		return s, nil
	}

	v, err, _ := g.refreshes.Do(sessionID, func() (interface{}, error) {
		// The refresh must complete and be persisted even if the request that
		// started it goes away, since other requests are waiting on it
		return g.refresh(context.WithoutCancel(ctx), sessionID)
	})
	if err != nil {
		return sessions.Session{}, err
	}
	return v.(sessions.Session), nil
}

func (g *Guard) read(ctx context.Context, sessionID string) (sessions.Session, error) {
	s, err := g.store.Read(ctx, sessionID)
	if apperrors.Is(err, apperrors.ErrSessionNotFound) {
		g.metrics.ObserveGuard(metrics.DecisionReject)
		return sessions.Session{}, apperrors.WithKind(apperrors.ErrUnauthenticated, err)
	}
	if err != nil {
		g.metrics.ObserveGuard(metrics.DecisionError)
		return sessions.Session{}, fmt.Errorf("failed to read session: %w", err)
	}
	return s, nil
}

func (g *Guard) refresh(ctx context.Context, sessionID string) (sessions.Session, error) {
	// Re-read inside the flight: a refresh that finished while this caller
	// was waiting has already written new tokens
	s, err := g.read(ctx, sessionID)
	if err != nil {
		return sessions.Session{}, err
	}

	updated, refreshed, err := g.tokens.EnsureValid(ctx, s)
	if err != nil {
		if destroyErr := g.store.Destroy(ctx, sessionID); destroyErr != nil {
			log.Err(destroyErr).Msg("Failed to destroy rejected session")
		}
		g.metrics.ObserveGuard(metrics.DecisionReject)
		log.Info().Err(err).Str("sub", s.Claims.Subject).Msg("Session rejected")
		return sessions.Session{}, apperrors.WithKind(apperrors.ErrUnauthenticated, err)
	}
	if !refreshed {
		g.metrics.ObserveGuard(metrics.DecisionAllow)
		return updated, nil
	}

	if err := g.store.Write(ctx, sessionID, updated); err != nil {
		if apperrors.Is(err, apperrors.ErrSessionNotFound) {
			// Logged out or expired while the refresh was in flight
			g.metrics.ObserveGuard(metrics.DecisionReject)
			return sessions.Session{}, apperrors.WithKind(apperrors.ErrUnauthenticated, err)
		}
		g.metrics.ObserveGuard(metrics.DecisionError)
		return sessions.Session{}, fmt.Errorf("failed to persist refreshed session: %w", err)
	}

	g.metrics.ObserveGuard(metrics.DecisionRefreshed)
	return updated, nil
}
