package memory

import (
	"sort"
	"sync"
	"time"

	"tuzemoon/internal/storage"
)

type joinKey struct {
	userID string
	memeID int64
}

// joinTable holds (user, meme) rows unique on the pair. Shared by likes and watchlist.
type joinTable struct {
	mu   sync.RWMutex
	rows map[joinKey]time.Time // value is created_at
}

func newJoinTable() joinTable {
	return joinTable{rows: make(map[joinKey]time.Time)}
}

func (t *joinTable) insert(userID string, memeID int64, createdAt time.Time) error {
	if userID == "" || memeID == 0 {
		return storage.ErrInvalidInput
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	k := joinKey{userID, memeID}
	if _, exists := t.rows[k]; exists {
		return storage.ErrDuplicateKey
	}
	t.rows[k] = createdAt
	return nil
}

func (t *joinTable) delete(userID string, memeID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := joinKey{userID, memeID}
	if _, exists := t.rows[k]; !exists {
		return storage.ErrNotFound
	}
	delete(t.rows, k)
	return nil
}

func (t *joinTable) exists(userID string, memeID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rows[joinKey{userID, memeID}]
	return ok
}

// memeIDsByUser returns meme IDs for a user, newest row first.
func (t *joinTable) memeIDsByUser(userID string) []int64 {
	t.mu.RLock()
	type row struct {
		memeID    int64
		createdAt time.Time
	}
	var rows []row
	for k, at := range t.rows {
		if k.userID == userID {
			rows = append(rows, row{k.memeID, at})
		}
	}
	t.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].createdAt.Equal(rows[j].createdAt) {
			return rows[i].createdAt.After(rows[j].createdAt)
		}
		return rows[i].memeID > rows[j].memeID
	})
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.memeID
	}
	return ids
}
