package auth

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
)

// Mode is the authentication mode, resolved once at startup.
type Mode int

const (
	// ModeProvider federates identity to the configured OpenID Connect provider.
	ModeProvider Mode = iota
	// ModeLocal signs everyone in as a fixed local identity without any network call.
	ModeLocal
)

func (m Mode) String() string {
	switch m {
	case ModeProvider:
		return "provider"
	case ModeLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Requested mode values accepted from configuration
const (
	RequestAuto     = "auto"
	RequestProvider = "provider"
	RequestLocal    = "local"
)

// ModeSettings are the inputs to ResolveMode.
type ModeSettings struct {
	Requested  string
	IssuerURL  string
	ClientID   string
	Production bool
}

// ProviderConfigured reports whether both the issuer and the client id are set.
func (s ModeSettings) ProviderConfigured() bool {
	return strings.TrimSpace(s.IssuerURL) != "" && strings.TrimSpace(s.ClientID) != ""
}

// ResolveMode decides the authentication mode. "auto" selects the provider
// when it is configured and local mode otherwise. Requesting the provider
// without its settings is an error, as is requesting local mode while a
// provider is configured.
func ResolveMode(s ModeSettings) (Mode, error) {
	requested := strings.ToLower(strings.TrimSpace(s.Requested))
	if requested == "" {
		requested = RequestAuto
	}

	var mode Mode
	switch requested {
	case RequestAuto:
		mode = ModeLocal
		if s.ProviderConfigured() {
			mode = ModeProvider
		}
	case RequestProvider:
		if !s.ProviderConfigured() {
			return ModeProvider, fmt.Errorf("%w: provider mode requires an issuer url and a client id", apperrors.ErrConfigUnavailable)
		}
		mode = ModeProvider
	case RequestLocal:
		if s.ProviderConfigured() {
			return ModeLocal, fmt.Errorf("%w: local mode cannot be used while an identity provider is configured", apperrors.ErrInvalidConfig)
		}
		mode = ModeLocal
	default:
		return ModeLocal, fmt.Errorf("%w: unknown auth mode %q", apperrors.ErrInvalidConfig, s.Requested)
	}

	if mode == ModeLocal && s.Production {
		log.Warn().Msg("Local authentication mode is active in production, every visitor can sign in as the local administrator")
	}
	return mode, nil
}
