package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examforge/examforge/pkg/pg"
)

// PgStore is the users-table-backed UserStore.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	if pool == nil {
		panic("auth: pgx pool is required")
	}
	return &PgStore{pool: pool}
}

func (s *PgStore) Create(ctx context.Context, email, name, passwordHash string) (*User, error) {
	var user User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, email, name, created_at`,
		strings.ToLower(strings.TrimSpace(email)), name, passwordHash,
	).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

func (s *PgStore) ByEmail(ctx context.Context, email string) (*User, string, error) {
	var user User
	var hash string
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, created_at, password_hash
		  FROM users
		 WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &hash)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, "", ErrUserNotFound
		}
		return nil, "", fmt.Errorf("failed to query user by email: %w", err)
	}
	return &user, hash, nil
}

func (s *PgStore) ByID(ctx context.Context, id int64) (*User, error) {
	var user User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *PgStore) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}
