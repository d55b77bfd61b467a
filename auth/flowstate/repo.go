// Package flowstate holds the secrets of logins that are waiting for the
// identity provider to redirect back. Entries are single use.
package flowstate

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a user may take on the provider's login page.
const DefaultTTL = 10 * time.Minute

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// PendingLogin is what the callback needs to complete a login.
type PendingLogin struct {
	Hostname     string    `json:"hostname"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	ReturnURL    string    `json:"return_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repo stores pending logins keyed by the OAuth state parameter.
type Repo interface {
	Save(ctx context.Context, state string, login *PendingLogin) error
	// Consume returns and removes the pending login. An unknown, expired or
	// already consumed state returns ErrInvalidState.
	Consume(ctx context.Context, state string) (*PendingLogin, error)
}
