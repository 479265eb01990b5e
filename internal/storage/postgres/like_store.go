package postgres

import (
	"context"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/storage"
)

// LikeStore implements storage.LikeStore using PostgreSQL.
type LikeStore struct {
	js joinStore
}

// NewLikeStore creates a new LikeStore.
func NewLikeStore(pool *Pool) *LikeStore {
	return &LikeStore{js: joinStore{pool: pool, table: "likes", countLikes: true}}
}

// Compile-time interface check.
var _ storage.LikeStore = (*LikeStore)(nil)

// Insert adds a like and increments memes.likes. Returns ErrDuplicateKey if (user, meme) exists.
func (s *LikeStore) Insert(ctx context.Context, l *domain.Like) error {
	if l == nil {
		return storage.ErrInvalidInput
	}
	return s.js.insert(ctx, l.UserID, l.MemeID, l.CreatedAt)
}

// Delete removes a like and decrements memes.likes.
func (s *LikeStore) Delete(ctx context.Context, userID string, memeID int64) error {
	return s.js.delete(ctx, userID, memeID)
}

// Exists reports whether the user liked the meme.
func (s *LikeStore) Exists(ctx context.Context, userID string, memeID int64) (bool, error) {
	return s.js.exists(ctx, userID, memeID)
}

// GetMemeIDsByUser retrieves IDs of memes liked by a user, newest like first.
func (s *LikeStore) GetMemeIDsByUser(ctx context.Context, userID string) ([]int64, error) {
	return s.js.memeIDsByUser(ctx, userID)
}

// WatchlistStore implements storage.WatchlistStore using PostgreSQL.
type WatchlistStore struct {
	js joinStore
}

// NewWatchlistStore creates a new WatchlistStore.
func NewWatchlistStore(pool *Pool) *WatchlistStore {
	return &WatchlistStore{js: joinStore{pool: pool, table: "watchlist"}}
}

// Compile-time interface check.
var _ storage.WatchlistStore = (*WatchlistStore)(nil)

// Insert adds an entry. Returns ErrDuplicateKey if (user, meme) exists.
func (s *WatchlistStore) Insert(ctx context.Context, e *domain.WatchlistEntry) error {
	if e == nil {
		return storage.ErrInvalidInput
	}
	return s.js.insert(ctx, e.UserID, e.MemeID, e.CreatedAt)
}

// Delete removes an entry.
func (s *WatchlistStore) Delete(ctx context.Context, userID string, memeID int64) error {
	return s.js.delete(ctx, userID, memeID)
}

// Exists reports whether the meme is on the user's watchlist.
func (s *WatchlistStore) Exists(ctx context.Context, userID string, memeID int64) (bool, error) {
	return s.js.exists(ctx, userID, memeID)
}

// GetMemeIDsByUser retrieves IDs of watchlisted memes, newest entry first.
func (s *WatchlistStore) GetMemeIDsByUser(ctx context.Context, userID string) ([]int64, error) {
	return s.js.memeIDsByUser(ctx, userID)
}
