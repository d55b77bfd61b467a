package flowstate

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu     sync.Mutex
	ttl    time.Duration
	states map[string]PendingLogin
}

// NewInMemoryRepo creates a new in-memory pending login repository
func NewInMemoryRepo(ttl time.Duration) *InMemoryRepo {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryRepo{
		ttl:    ttl,
		states: make(map[string]PendingLogin),
	}
}

// Save stores a pending login. Expired entries are swept on every save so
// abandoned logins do not accumulate.
func (r *InMemoryRepo) Save(_ context.Context, state string, login *PendingLogin) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if login == nil {
		return errors.New("login cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := NowTimeFunc()
	for key, pending := range r.states {
		if now.Sub(pending.CreatedAt) > r.ttl {
			delete(r.states, key)
		}
	}

	// Store a copy to prevent external modifications
	r.states[state] = *login
	return nil
}

// Consume retrieves and deletes a pending login
func (r *InMemoryRepo) Consume(_ context.Context, state string) (*PendingLogin, error) {
	if state == "" {
		return nil, apperrors.ErrInvalidState
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pending, exists := r.states[state]
	if !exists {
		return nil, apperrors.ErrInvalidState
	}
	delete(r.states, state)

	if NowTimeFunc().Sub(pending.CreatedAt) > r.ttl {
		return nil, apperrors.ErrInvalidState
	}
	return &pending, nil
}

// Len returns the number of stored pending logins.
func (r *InMemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
