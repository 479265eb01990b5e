package postgres

import (
	"context"
	"fmt"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/storage"
)

// UserStore implements storage.UserStore using PostgreSQL.
type UserStore struct {
	pool *Pool
}

// NewUserStore creates a new UserStore.
func NewUserStore(pool *Pool) *UserStore {
	return &UserStore{pool: pool}
}

// Compile-time interface check.
var _ storage.UserStore = (*UserStore)(nil)

// Insert adds a user. Returns ErrDuplicateKey if id exists.
func (s *UserStore) Insert(ctx context.Context, u *domain.User) error {
	if u == nil || u.ID == "" {
		return storage.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, is_admin, is_verified, points)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.Email, u.IsAdmin, u.IsVerified, u.Points)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user. Returns ErrNotFound if not exists.
func (s *UserStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, is_admin, is_verified, points FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.IsAdmin, &u.IsVerified, &u.Points)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &u, nil
}
