package users

import (
	"context"

	"github.com/jrsteele09/go-solar-auth/identity"
)

// Repo persists user profiles. Upsert is idempotent on the claims subject.
type Repo interface {
	Upsert(ctx context.Context, claims identity.Claims) error
	Get(ctx context.Context, id string) (*User, error)
}
