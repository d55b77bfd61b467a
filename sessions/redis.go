package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
)

// DefaultKeyPrefix namespaces session keys in a shared Redis.
const DefaultKeyPrefix = "solar:sess:"

var _ Store = (*RedisStore)(nil)

// RedisStore keeps sessions in Redis as JSON with a native key expiry.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates a Redis backed store. Use a miniredis client in tests.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}

// Create stores a new session with the given ttl.
func (s *RedisStore) Create(ctx context.Context, id string, session Session, ttl time.Duration) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	data, err := encode(session)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(id), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Read loads a session. Expiry is enforced by Redis.
func (s *RedisStore) Read(ctx context.Context, id string) (Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, apperrors.ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	return decode(data)
}

// Write replaces an existing session, keeping the key's remaining ttl.
func (s *RedisStore) Write(ctx context.Context, id string, session Session) error {
	data, err := encode(session)
	if err != nil {
		return err
	}
	err = s.client.SetArgs(ctx, s.key(id), data, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return apperrors.ErrSessionNotFound
		}
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// Destroy removes a session.
func (s *RedisStore) Destroy(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity (health check).
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
