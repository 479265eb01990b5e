package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/storage"
)

// MemeStore is an in-memory implementation of storage.MemeStore.
type MemeStore struct {
	mu     sync.RWMutex
	data   map[int64]*domain.Meme // keyed by id
	nextID int64
	notify Notifier
}

// NewMemeStore creates a new in-memory meme store. notify may be nil.
func NewMemeStore(notify Notifier) *MemeStore {
	return &MemeStore{
		data:   make(map[int64]*domain.Meme),
		notify: notify,
	}
}

// Insert adds a new meme and assigns its ID.
func (s *MemeStore) Insert(_ context.Context, m *domain.Meme) error {
	if m == nil || m.Title == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	if m.ID == 0 {
		s.nextID++
		m.ID = s.nextID
	} else if _, exists := s.data[m.ID]; exists {
		s.mu.Unlock()
		return storage.ErrDuplicateKey
	} else if m.ID > s.nextID {
		s.nextID = m.ID
	}
	stored := m.Clone()
	s.data[m.ID] = stored
	rec := memeRecord(stored)
	s.mu.Unlock()

	s.notify.notify(domain.CollectionMemes, EventInsert, rec, nil)
	return nil
}

// GetByID retrieves a meme by ID. Returns ErrNotFound if not exists.
func (s *MemeStore) GetByID(_ context.Context, id int64) (*domain.Meme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

// GetByIDs retrieves the listed memes among ids, newest first.
func (s *MemeStore) GetByIDs(_ context.Context, ids []int64, now time.Time) ([]*domain.Meme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Meme
	for _, id := range lo.Uniq(ids) {
		if m, ok := s.data[id]; ok && m.IsListed(now) {
			result = append(result, m.Clone())
		}
	}
	sortNewest(result)
	return result, nil
}

// List retrieves one page of listed memes matching the filter.
func (s *MemeStore) List(_ context.Context, filter domain.MemeFilter, now time.Time) ([]*domain.Meme, error) {
	s.mu.RLock()
	matched := lo.Filter(lo.Values(s.data), func(m *domain.Meme, _ int) bool {
		return m.IsListed(now) && matchesFilter(m, filter)
	})
	matched = lo.Map(matched, func(m *domain.Meme, _ int) *domain.Meme { return m.Clone() })
	s.mu.RUnlock()

	if filter.Sort == domain.SortMostLiked {
		sort.Slice(matched, func(i, j int) bool {
			if matched[i].Likes != matched[j].Likes {
				return matched[i].Likes > matched[j].Likes
			}
			return matched[i].ID > matched[j].ID
		})
	} else {
		sortNewest(matched)
	}

	offset := filter.Offset()
	if offset >= len(matched) {
		return []*domain.Meme{}, nil
	}
	end := min(offset+filter.Limit(), len(matched))
	return matched[offset:end], nil
}

// ListFeatured retrieves memes featured at now, ordered by tuzemoon_until DESC.
func (s *MemeStore) ListFeatured(_ context.Context, now time.Time) ([]*domain.Meme, error) {
	s.mu.RLock()
	var result []*domain.Meme
	for _, m := range s.data {
		if m.IsListed(now) && m.IsCurrentlyFeatured(now) {
			result = append(result, m.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].TuzemoonUntil, result[j].TuzemoonUntil
		switch {
		case a == nil && b == nil:
			return result[i].ID > result[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		}
		return a.After(*b)
	})
	return result, nil
}

// ListByCreator retrieves all memes created by a user, newest first.
func (s *MemeStore) ListByCreator(_ context.Context, userID string) ([]*domain.Meme, error) {
	s.mu.RLock()
	var result []*domain.Meme
	for _, m := range s.data {
		if m.CreatedBy == userID {
			result = append(result, m.Clone())
		}
	}
	s.mu.RUnlock()

	sortNewest(result)
	return result, nil
}

// SetFeatured sets is_featured and tuzemoon_until. Returns ErrNotFound if not exists.
func (s *MemeStore) SetFeatured(_ context.Context, id int64, until time.Time) error {
	s.mu.Lock()
	m, exists := s.data[id]
	if !exists {
		s.mu.Unlock()
		return storage.ErrNotFound
	}
	old := memeRecord(m)
	m.IsFeatured = true
	u := until.UTC()
	m.TuzemoonUntil = &u
	rec := memeRecord(m)
	s.mu.Unlock()

	s.notify.notify(domain.CollectionMemes, EventUpdate, rec, old)
	return nil
}

// ClearExpiredFeatures unsets the featured flag on memes whose expiry passed.
func (s *MemeStore) ClearExpiredFeatures(_ context.Context, now time.Time) (int64, error) {
	type change struct{ rec, old map[string]any }
	var changes []change

	s.mu.Lock()
	for _, m := range s.data {
		if !m.IsFeatured || m.TuzemoonUntil == nil || m.TuzemoonUntil.After(now) {
			continue
		}
		old := memeRecord(m)
		m.IsFeatured = false
		m.TuzemoonUntil = nil
		changes = append(changes, change{rec: memeRecord(m), old: old})
	}
	s.mu.Unlock()

	for _, c := range changes {
		s.notify.notify(domain.CollectionMemes, EventUpdate, c.rec, c.old)
	}
	return int64(len(changes)), nil
}

// adjustLikes changes the like counter of a meme and returns the update records.
// Caller must not hold s.mu.
func (s *MemeStore) adjustLikes(id int64, delta int64) (rec, old map[string]any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.data[id]
	if !exists {
		return nil, nil, storage.ErrNotFound
	}
	old = memeRecord(m)
	m.Likes = max(m.Likes+delta, 0)
	return memeRecord(m), old, nil
}

func (s *MemeStore) exists(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[id]
	return ok
}

func matchesFilter(m *domain.Meme, f domain.MemeFilter) bool {
	if f.Blockchain != "" && m.Blockchain != f.Blockchain {
		return false
	}
	if f.SelectedDate != nil {
		day := f.SelectedDate.UTC().Truncate(24 * time.Hour)
		created := m.CreatedAt.UTC()
		if created.Before(day) || !created.Before(day.Add(24*time.Hour)) {
			return false
		}
	}
	return true
}

// sortNewest orders by created_at DESC, id DESC.
func sortNewest(ms []*domain.Meme) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.After(ms[j].CreatedAt)
		}
		return ms[i].ID > ms[j].ID
	})
}

var _ storage.MemeStore = (*MemeStore)(nil)
