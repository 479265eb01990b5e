package memory

import (
	"context"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/storage"
)

// WatchlistStore is an in-memory implementation of storage.WatchlistStore.
type WatchlistStore struct {
	table  joinTable
	memes  *MemeStore
	notify Notifier
}

// NewWatchlistStore creates a new in-memory watchlist store.
func NewWatchlistStore(memes *MemeStore, notify Notifier) *WatchlistStore {
	return &WatchlistStore{
		table:  newJoinTable(),
		memes:  memes,
		notify: notify,
	}
}

// Insert adds an entry. Returns ErrDuplicateKey if (user, meme) exists.
func (s *WatchlistStore) Insert(_ context.Context, e *domain.WatchlistEntry) error {
	if e == nil {
		return storage.ErrInvalidInput
	}
	if !s.memes.exists(e.MemeID) {
		return storage.ErrNotFound
	}
	if err := s.table.insert(e.UserID, e.MemeID, e.CreatedAt); err != nil {
		return err
	}
	s.notify.notify(domain.CollectionWatchlist, EventInsert, joinRecord(e.UserID, e.MemeID), nil)
	return nil
}

// Delete removes an entry. Returns ErrNotFound if not exists.
func (s *WatchlistStore) Delete(_ context.Context, userID string, memeID int64) error {
	if err := s.table.delete(userID, memeID); err != nil {
		return err
	}
	s.notify.notify(domain.CollectionWatchlist, EventDelete, nil, joinRecord(userID, memeID))
	return nil
}

// Exists reports whether the meme is on the user's watchlist.
func (s *WatchlistStore) Exists(_ context.Context, userID string, memeID int64) (bool, error) {
	return s.table.exists(userID, memeID), nil
}

// GetMemeIDsByUser retrieves IDs of watchlisted memes, newest entry first.
func (s *WatchlistStore) GetMemeIDsByUser(_ context.Context, userID string) ([]int64, error) {
	return s.table.memeIDsByUser(userID), nil
}

var _ storage.WatchlistStore = (*WatchlistStore)(nil)
