package memory

import (
	"context"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/storage"
)

// LikeStore is an in-memory implementation of storage.LikeStore.
// It keeps the like counter of the MemeStore in sync.
type LikeStore struct {
	table  joinTable
	memes  *MemeStore
	notify Notifier
}

// NewLikeStore creates a new in-memory like store backed by memes.
func NewLikeStore(memes *MemeStore, notify Notifier) *LikeStore {
	return &LikeStore{
		table:  newJoinTable(),
		memes:  memes,
		notify: notify,
	}
}

// Insert adds a like and increments the meme's counter.
func (s *LikeStore) Insert(_ context.Context, l *domain.Like) error {
	if l == nil {
		return storage.ErrInvalidInput
	}
	if !s.memes.exists(l.MemeID) {
		return storage.ErrNotFound
	}
	if err := s.table.insert(l.UserID, l.MemeID, l.CreatedAt); err != nil {
		return err
	}
	rec, old, err := s.memes.adjustLikes(l.MemeID, 1)
	if err != nil {
		return err
	}

	s.notify.notify(domain.CollectionLikes, EventInsert, joinRecord(l.UserID, l.MemeID), nil)
	s.notify.notify(domain.CollectionMemes, EventUpdate, rec, old)
	return nil
}

// Delete removes a like and decrements the meme's counter.
func (s *LikeStore) Delete(_ context.Context, userID string, memeID int64) error {
	if err := s.table.delete(userID, memeID); err != nil {
		return err
	}
	rec, old, err := s.memes.adjustLikes(memeID, -1)
	if err != nil {
		return err
	}

	s.notify.notify(domain.CollectionLikes, EventDelete, nil, joinRecord(userID, memeID))
	s.notify.notify(domain.CollectionMemes, EventUpdate, rec, old)
	return nil
}

// Exists reports whether the user liked the meme.
func (s *LikeStore) Exists(_ context.Context, userID string, memeID int64) (bool, error) {
	return s.table.exists(userID, memeID), nil
}

// GetMemeIDsByUser retrieves IDs of memes liked by a user, newest like first.
func (s *LikeStore) GetMemeIDsByUser(_ context.Context, userID string) ([]int64, error) {
	return s.table.memeIDsByUser(userID), nil
}

var _ storage.LikeStore = (*LikeStore)(nil)
