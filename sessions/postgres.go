package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
	"github.com/jrsteele09/go-solar-auth/internal/postgres"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps sessions in the sessions(sid, sess, expire) table.
// Expiry is enforced by comparing the stored expire column on every access.
type PostgresStore struct {
	db postgres.DB
}

// NewPostgresStore creates a store on top of a pgx pool.
func NewPostgresStore(db postgres.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create stores a new session, replacing any previous record with the same id.
func (s *PostgresStore) Create(ctx context.Context, id string, session Session, ttl time.Duration) error {
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

	query := `
		INSERT INTO sessions (sid, sess, expire)
		VALUES ($1, $2, $3)
		ON CONFLICT (sid) DO UPDATE SET sess = EXCLUDED.sess, expire = EXCLUDED.expire`

	if _, err := s.db.Exec(ctx, query, id, data, NowTimeFunc().Add(ttl).UTC()); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Read loads an unexpired session.
func (s *PostgresStore) Read(ctx context.Context, id string) (Session, error) {
	query := `SELECT sess FROM sessions WHERE sid = $1 AND expire > $2`

	var data []byte
	if err := s.db.QueryRow(ctx, query, id, NowTimeFunc().UTC()).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, apperrors.ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	return decode(data)
}

// Write replaces an unexpired session without touching its expire column.
func (s *PostgresStore) Write(ctx context.Context, id string, session Session) error {
	data, err := encode(session)
	if err != nil {
		return err
	}

	query := `UPDATE sessions SET sess = $2 WHERE sid = $1 AND expire > $3`

	tag, err := s.db.Exec(ctx, query, id, data, NowTimeFunc().UTC())
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrSessionNotFound
	}
	return nil
}

// Destroy removes a session.
func (s *PostgresStore) Destroy(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE sid = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Prune deletes expired sessions and returns how many were removed. Reads
// already ignore expired rows, so pruning only reclaims space.
func (s *PostgresStore) Prune(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE expire <= $1`, NowTimeFunc().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
