package flowstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
)

// DefaultKeyPrefix namespaces pending logins in a shared Redis.
const DefaultKeyPrefix = "solar:login:"

var _ Repo = (*RedisRepo)(nil)

// RedisRepo keeps pending logins in Redis so a callback can land on any
// replica. Keys expire with the login ttl.
type RedisRepo struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisRepo creates a Redis backed pending login repository.
func NewRedisRepo(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisRepo {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRepo{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (r *RedisRepo) key(state string) string {
	return r.keyPrefix + state
}

// Save stores a pending login with the repository ttl
func (r *RedisRepo) Save(ctx context.Context, state string, login *PendingLogin) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if login == nil {
		return errors.New("login cannot be nil")
	}
	data, err := json.Marshal(login)
	if err != nil {
		return fmt.Errorf("failed to marshal pending login: %w", err)
	}
	if err := r.client.Set(ctx, r.key(state), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store pending login: %w", err)
	}
	return nil
}

// Consume atomically reads and deletes a pending login
func (r *RedisRepo) Consume(ctx context.Context, state string) (*PendingLogin, error) {
	if state == "" {
		return nil, apperrors.ErrInvalidState
	}
	data, err := r.client.GetDel(ctx, r.key(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrInvalidState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending login: %w", err)
	}

	var pending PendingLogin
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending login: %w", err)
	}
	return &pending, nil
}
