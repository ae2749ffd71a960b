package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const upsertUserSQL = `INSERT INTO users (id, email, name) VALUES ($1, $2, $3)
	ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name`

// User is a marketplace account. Profiles live with the identity provider;
// the escrow service keeps only what foreign keys need.
type User struct {
	ID    string
	Email string
	Name  string
}

// UserRepository stores users.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Upsert inserts u or updates its email and name.
func (r *UserRepository) Upsert(ctx context.Context, u User) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, upsertUserSQL, u.ID, u.Email, u.Name); err != nil {
		return fmt.Errorf("upserting user %q: %w", u.ID, err)
	}
	return nil
}
