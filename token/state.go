package token

import (
	"time"

	"github.com/jrsteele09/go-solar-auth/sessions"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// State is the lifecycle state of a session's tokens.
type State int

const (
	// Fresh tokens were just obtained from a code exchange or refresh.
	Fresh State = iota
	// Valid tokens have not yet reached their expiry.
	Valid
	// Expired tokens are past their expiry but can be refreshed.
	Expired
	// RefreshFailed tokens could not be refreshed.
	RefreshFailed
	// Rejected sessions have no expiry or cannot be refreshed.
	Rejected
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	case RefreshFailed:
		return "refresh_failed"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Classify returns the state of a stored session at now. A session without an
// expiry is rejected outright. A session is valid up to and including its
// expiry second.
func Classify(s sessions.Session, now time.Time) State {
	exp, ok := s.Expiry()
	if !ok {
		return Rejected
	}
	if !now.After(exp) {
		return Valid
	}
	if !s.HasRefreshToken() {
		return Rejected
	}
	return Expired
}
