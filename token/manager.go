package token

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-solar-auth/identity"
	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
	"github.com/jrsteele09/go-solar-auth/internal/metrics"
	"github.com/jrsteele09/go-solar-auth/sessions"
)

// Refresher performs a refresh grant with the identity provider.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (identity.Tokens, error)
}

// Manager keeps a session's tokens usable, refreshing them when they expire.
type Manager struct {
	refresher Refresher
	metrics   *metrics.Collectors
}

// NewManager creates a token lifecycle manager.
func NewManager(refresher Refresher, m *metrics.Collectors) *Manager {
	return &Manager{refresher: refresher, metrics: m}
}

// State classifies a session at the current time.
func (m *Manager) State(s sessions.Session) State {
	return Classify(s, NowTimeFunc())
}

// EnsureValid returns a session whose tokens are valid now. A valid session is
// returned unchanged without contacting the provider and refreshed is false.
// An expired session with a refresh token is refreshed and the updated copy is
// returned with refreshed set; the caller must write it back to the store.
// Every error matches either ErrUnauthenticated or ErrRefreshFailed.
func (m *Manager) EnsureValid(ctx context.Context, s sessions.Session) (sessions.Session, bool, error) {
	now := NowTimeFunc()

	switch Classify(s, now) {
	case Valid:
		return s, false, nil
	case Rejected:
		if _, ok := s.Expiry(); !ok {
			return s, false, apperrors.WithKind(apperrors.ErrUnauthenticated, apperrors.ErrMissingExpiry)
		}
		return s, false, apperrors.WithKind(apperrors.ErrUnauthenticated, apperrors.ErrNoRefreshToken)
	}

	tokens, err := m.refresher.Refresh(ctx, s.RefreshToken)
	if err != nil {
		m.metrics.ObserveRefresh(metrics.OutcomeFailure)
		log.Warn().Err(err).Str("sub", s.Claims.Subject).Msg("Token refresh failed")
		return s, false, apperrors.WithKind(apperrors.ErrRefreshFailed, errors.Wrap(err, "Manager.EnsureValid Refresh"))
	}

	// The issuer is already checked by ID token verification
	if tokens.HasClaims() && tokens.Claims.Subject != s.Claims.Subject {
		m.metrics.ObserveRefresh(metrics.OutcomeFailure)
		log.Warn().Str("sub", s.Claims.Subject).Str("refreshed_sub", tokens.Claims.Subject).Msg("Refreshed ID token is for a different subject")
		return s, false, errors.Wrap(apperrors.ErrRefreshFailed, "Manager.EnsureValid refreshed subject")
	}

	updated := s.WithTokens(tokens)
	expiresAt, ok := updated.Expiry()
	if !ok || !expiresAt.After(now) {
		m.metrics.ObserveRefresh(metrics.OutcomeFailure)
		log.Warn().Str("sub", s.Claims.Subject).Msg("Refreshed tokens carry no future expiry")
		return s, false, errors.Wrap(apperrors.ErrRefreshFailed, "Manager.EnsureValid refreshed expiry")
	}

	m.metrics.ObserveRefresh(metrics.OutcomeSuccess)
	log.Debug().Str("sub", updated.Claims.Subject).Time("expires_at", expiresAt).Msg("Tokens refreshed")
	return updated, true, nil
}
