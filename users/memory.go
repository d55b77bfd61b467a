package users

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-solar-auth/identity"
	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

var _ Repo = (*MemoryRepo)(nil)

// MemoryRepo is a thread-safe in-memory user repository
type MemoryRepo struct {
	users map[string]*User
	lock  sync.RWMutex
}

// NewMemoryRepo creates an empty in-memory user repository
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		users: make(map[string]*User),
	}
}

// Upsert creates the user on first sight and refreshes the profile afterwards.
func (ur *MemoryRepo) Upsert(_ context.Context, claims identity.Claims) error {
	if claims.Subject == "" {
		return fmt.Errorf("%w: subject is required", apperrors.ErrUserUpsert)
	}
	now := NowTimeFunc()

	ur.lock.Lock()
	defer ur.lock.Unlock()

	user := FromClaims(claims, now)
	if existing, ok := ur.users[claims.Subject]; ok {
		user.CreatedAt = existing.CreatedAt
	}
	ur.users[claims.Subject] = user
	return nil
}

// Get returns a copy of the stored user.
func (ur *MemoryRepo) Get(_ context.Context, id string) (*User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	user, ok := ur.users[id]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}
