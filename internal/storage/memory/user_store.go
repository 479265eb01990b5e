package memory

import (
	"context"
	"sync"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/storage"
)

// UserStore is an in-memory implementation of storage.UserStore.
type UserStore struct {
	mu   sync.RWMutex
	data map[string]*domain.User
}

// NewUserStore creates a new in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{data: make(map[string]*domain.User)}
}

// Insert adds a user. Returns ErrDuplicateKey if id exists.
func (s *UserStore) Insert(_ context.Context, u *domain.User) error {
	if u == nil || u.ID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[u.ID]; exists {
		return storage.ErrDuplicateKey
	}
	userCopy := *u
	s.data[u.ID] = &userCopy
	return nil
}

// GetByID retrieves a user. Returns ErrNotFound if not exists.
func (s *UserStore) GetByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	userCopy := *u
	return &userCopy, nil
}

var _ storage.UserStore = (*UserStore)(nil)
