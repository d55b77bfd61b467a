package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jrsteele09/go-solar-auth/identity"
	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
	"github.com/jrsteele09/go-solar-auth/internal/postgres"
)

var _ Repo = (*PostgresRepo)(nil)

// PostgresRepo stores users in the users table.
type PostgresRepo struct {
	db postgres.DB
}

// NewPostgresRepo creates a user repository on top of a pgx pool.
func NewPostgresRepo(db postgres.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Upsert inserts the user or refreshes the profile columns of an existing one.
func (r *PostgresRepo) Upsert(ctx context.Context, claims identity.Claims) error {
	if claims.Subject == "" {
		return fmt.Errorf("%w: subject is required", apperrors.ErrUserUpsert)
	}

	query := `
		INSERT INTO users (id, email, first_name, last_name, profile_image_url, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			profile_image_url = EXCLUDED.profile_image_url,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		claims.Subject,
		claims.Email,
		claims.FirstName,
		claims.LastName,
		claims.ProfileImageURL,
		NowTimeFunc().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrUserUpsert, err)
	}
	return nil
}

// Get loads a user by id.
func (r *PostgresRepo) Get(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, COALESCE(email, ''), COALESCE(first_name, ''), COALESCE(last_name, ''),
			COALESCE(profile_image_url, ''), created_at, updated_at
		FROM users WHERE id = $1`

	var u User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.ProfileImageURL, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}
