// Package auth provides the "verify credential, get a user id"
// capability: registration, login, and the JWT session claims consumed
// by the HTTP middleware.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/examforge/examforge/pkg/jwt"
)

var (
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
)

// User is an internal identity. The id is immutable after registration.
type User struct {
	ID        int64
	Email     string
	Name      string
	CreatedAt time.Time
}

// UserStore persists users.
type UserStore interface {
	Create(ctx context.Context, email, name, passwordHash string) (*User, error)
	ByEmail(ctx context.Context, email string) (*User, string, error)
	ByID(ctx context.Context, id int64) (*User, error)
	Exists(ctx context.Context, id int64) (bool, error)
}

// Claims are the session token claims. UserID identifies the caller on
// every authenticated request.
type Claims struct {
	UserID int64 `json:"uid"`
	jwt.StandardClaims
}

// Service implements registration and credential verification.
type Service struct {
	users    UserStore
	tokens   *jwt.Service
	tokenTTL time.Duration
}

// NewService creates an auth service. Panics on nil dependencies to fail
// fast during initialization.
func NewService(users UserStore, tokens *jwt.Service, tokenTTL time.Duration) *Service {
	if users == nil {
		panic("auth: user store is required")
	}
	if tokens == nil {
		panic("auth: token service is required")
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{users: users, tokens: tokens, tokenTTL: tokenTTL}
}

// Register creates a user with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, email, name, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return s.users.Create(ctx, email, name, string(hash))
}

// Login verifies credentials and returns a signed session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *User, error) {
	user, hash, err := s.users.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	now := time.Now()
	token, err := s.tokens.Generate(Claims{
		UserID: user.ID,
		StandardClaims: jwt.StandardClaims{
			ID:        uuid.NewString(),
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(s.tokenTTL).Unix(),
		},
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to issue session token: %w", err)
	}
	return token, user, nil
}

// ByID fetches a user profile.
func (s *Service) ByID(ctx context.Context, id int64) (*User, error) {
	return s.users.ByID(ctx, id)
}

// Exists reports whether the user id is registered. Satisfies the
// reconciler's user directory dependency.
func (s *Service) Exists(ctx context.Context, id int64) (bool, error) {
	return s.users.Exists(ctx, id)
}

// UserIDFromClaims extracts the authenticated user id from middleware
// claims, returning 0 when absent or malformed.
func UserIDFromClaims(claims map[string]any) int64 {
	switch v := claims["uid"].(type) {
	case float64:
		if v > 0 {
			return int64(v)
		}
	case int64:
		if v > 0 {
			return v
		}
	}
	return 0
}
