// Package reconcile turns change-feed events into query cache invalidations.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"

	"tuzemoon/internal/changefeed"
	"tuzemoon/internal/domain"
	"tuzemoon/internal/querycache"
)

// InvalidationTable maps a collection to the query prefixes that any change
// in it invalidates.
type InvalidationTable map[string][]string

// DefaultTable is the application's collection to prefix mapping.
func DefaultTable() InvalidationTable {
	return InvalidationTable{
		domain.CollectionLikes: {
			querycache.PrefixMemes,
			querycache.PrefixMeme,
			querycache.PrefixUserLikes,
			querycache.PrefixLikeStatus,
			querycache.PrefixFeaturedMemes,
			querycache.PrefixWatchlistMemes,
		},
		domain.CollectionWatchlist: {
			querycache.PrefixWatchlistMemes,
			querycache.PrefixWatchlistStatus,
		},
		domain.CollectionMemes: {
			querycache.PrefixMemes,
			querycache.PrefixMeme,
			querycache.PrefixFeaturedMemes,
			querycache.PrefixWatchlistMemes,
			querycache.PrefixUserMemes,
		},
		domain.CollectionPayments: {
			querycache.PrefixPayments,
		},
	}
}

// Prefixes returns the prefixes mapped to collection.
func (t InvalidationTable) Prefixes(collection string) []string {
	return t[collection]
}

// Collections returns the mapped collections in name order.
func (t InvalidationTable) Collections() []string {
	cols := lo.Keys(t)
	sort.Strings(cols)
	return cols
}

// Reconciler subscribes to the change feed and invalidates cache prefixes.
type Reconciler struct {
	feed   changefeed.Feed
	cache  *querycache.Cache
	table  InvalidationTable
	logger *slog.Logger
}

// New creates a reconciler. A nil table uses DefaultTable.
func New(feed changefeed.Feed, cache *querycache.Cache, table InvalidationTable, logger *slog.Logger) *Reconciler {
	if table == nil {
		table = DefaultTable()
	}
	return &Reconciler{
		feed:   feed,
		cache:  cache,
		table:  table,
		logger: logger.With(slog.String("component", "reconcile")),
	}
}

// Mount subscribes once per mapped collection. Every event invalidates
// every prefix of its collection, regardless of payload.
func (r *Reconciler) Mount(ctx context.Context) (*Mount, error) {
	m := &Mount{}
	for _, col := range r.table.Collections() {
		prefixes := r.table.Prefixes(col)
		unsub, err := r.feed.Subscribe(ctx, changefeed.Subscription{Collection: col}, func(e changefeed.Event) {
			r.apply(e, prefixes)
		})
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("subscribe %s: %w", col, err)
		}
		m.unsubs = append(m.unsubs, unsub)
	}
	r.logger.Debug("mounted", slog.Int("collections", len(m.unsubs)))
	return m, nil
}

// Handle applies one event directly, bypassing the feed.
func (r *Reconciler) Handle(e changefeed.Event) {
	r.apply(e, r.table.Prefixes(e.Collection))
}

func (r *Reconciler) apply(e changefeed.Event, prefixes []string) {
	n := 0
	for _, p := range prefixes {
		n += r.cache.Invalidate(querycache.Prefix(p))
	}
	r.logger.Debug("change applied",
		slog.String("collection", e.Collection),
		slog.String("type", string(e.Type)),
		slog.Int("entries", n),
	)
}

// Mount is an active set of subscriptions.
type Mount struct {
	once   sync.Once
	unsubs []changefeed.Unsubscribe
}

// Close unsubscribes all handlers. Safe to call more than once.
func (m *Mount) Close() {
	m.once.Do(func() {
		for _, u := range m.unsubs {
			u()
		}
	})
}
