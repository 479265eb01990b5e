package mutation

import (
	"github.com/samber/lo"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/querycache"
)

// likeCountPrefixes hold results whose memes carry a like counter.
var likeCountPrefixes = []string{
	querycache.PrefixMemes,
	querycache.PrefixMeme,
	querycache.PrefixFeaturedMemes,
	querycache.PrefixWatchlistMemes,
}

// change is one local cache edit and its inverse.
type change struct {
	apply func()
	undo  func()
}

func (c change) rollback() {
	if c.undo != nil {
		c.undo()
	}
}

// adjustLikes changes the counter of memeID by delta in every cached result
// containing it. The inverse applies -delta to the same entries, skipping any
// that a fetch has replaced since: those already hold server truth.
func adjustLikes(cache *querycache.Cache, memeID int64, delta int64) change {
	touched := make(map[string]uint64)

	return change{
		apply: func() {
			match := func(k querycache.Key) bool { return lo.Contains(likeCountPrefixes, k.Prefix) }
			cache.UpdateRevisions(match, func(k querycache.Key, rev uint64, old any) any {
				updated, ok := withLikes(old, memeID, delta)
				if ok {
					touched[k.String()] = rev
				}
				return updated
			})
		},
		undo: func() {
			if len(touched) == 0 {
				return
			}
			match := func(k querycache.Key) bool {
				_, ok := touched[k.String()]
				return ok
			}
			cache.UpdateRevisions(match, func(k querycache.Key, rev uint64, old any) any {
				if touched[k.String()] != rev {
					return old
				}
				updated, _ := withLikes(old, memeID, -delta)
				return updated
			})
		},
	}
}

// withLikes returns a copy of v with memeID's counter moved by delta.
func withLikes(v any, memeID int64, delta int64) (any, bool) {
	switch data := v.(type) {
	case *domain.Meme:
		if data == nil || data.ID != memeID {
			return v, false
		}
		m := data.Clone()
		m.Likes = max(m.Likes+delta, 0)
		return m, true
	case []*domain.Meme:
		if !lo.ContainsBy(data, func(m *domain.Meme) bool { return m.ID == memeID }) {
			return v, false
		}
		return lo.Map(data, func(m *domain.Meme, _ int) *domain.Meme {
			if m.ID != memeID {
				return m
			}
			c := m.Clone()
			c.Likes = max(c.Likes+delta, 0)
			return c
		}), true
	}
	return v, false
}

// setStatus sets a cached boolean status. The inverse restores the previous
// value, or leaves the entry alone if it held none.
func setStatus(cache *querycache.Cache, key querycache.Key, value bool) change {
	var (
		prev any
		had  bool
		at   uint64
	)
	return change{
		apply: func() {
			cache.UpdateRevisions(querycache.Exact(key), func(_ querycache.Key, rev uint64, old any) any {
				prev, had, at = old, true, rev
				return value
			})
		},
		undo: func() {
			if !had {
				return
			}
			cache.UpdateRevisions(querycache.Exact(key), func(_ querycache.Key, rev uint64, old any) any {
				if rev != at {
					return old
				}
				return prev
			})
		},
	}
}

// removeFromList drops memeID from the cached list at key. The inverse puts
// it back at its old position.
func removeFromList(cache *querycache.Cache, key querycache.Key, memeID int64) change {
	var removed *domain.Meme
	idx := -1
	return change{
		apply: func() {
			cache.SetData(key, func(old any) any {
				list, ok := old.([]*domain.Meme)
				if !ok {
					return old
				}
				_, i, found := lo.FindIndexOf(list, func(m *domain.Meme) bool { return m.ID == memeID })
				if !found {
					return old
				}
				removed, idx = list[i], i
				return append(append([]*domain.Meme{}, list[:i]...), list[i+1:]...)
			})
		},
		undo: func() {
			if removed == nil {
				return
			}
			cache.SetData(key, func(old any) any {
				list, ok := old.([]*domain.Meme)
				if !ok || lo.ContainsBy(list, func(m *domain.Meme) bool { return m.ID == memeID }) {
					return old
				}
				at := min(idx, len(list))
				out := make([]*domain.Meme, 0, len(list)+1)
				out = append(out, list[:at]...)
				out = append(out, removed)
				return append(out, list[at:]...)
			})
		},
	}
}

func applyAll(changes ...change) []change {
	for _, c := range changes {
		c.apply()
	}
	return changes
}

func rollbackAll(changes []change) {
	for i := len(changes) - 1; i >= 0; i-- {
		changes[i].rollback()
	}
}

func (c change) orNoop() change {
	if c.apply == nil {
		return change{apply: func() {}}
	}
	return c
}
