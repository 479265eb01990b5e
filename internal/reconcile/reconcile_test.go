package reconcile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuzemoon/internal/changefeed"
	"tuzemoon/internal/domain"
	"tuzemoon/internal/observability"
	"tuzemoon/internal/querycache"
)

func constFetcher(v any) querycache.Fetcher {
	return func(context.Context) (any, error) { return v, nil }
}

func TestReconciler_LikesEventInvalidatesPrefixes(t *testing.T) {
	hub := changefeed.NewHub(observability.NopLogger())
	defer hub.Close()
	cache := querycache.New(querycache.Options{}, observability.NopLogger())
	defer cache.Close()
	ctx := context.Background()

	r := New(hub, cache, nil, observability.NopLogger())
	m, err := r.Mount(ctx)
	require.NoError(t, err)
	defer m.Close()

	affected := []querycache.Key{
		querycache.NewKey(querycache.PrefixMemes, "page", "0"),
		querycache.MemeKey(42),
		querycache.UserLikesKey("u1"),
		querycache.LikeStatusKey("u1", 42),
		querycache.FeaturedMemesKey(),
		querycache.WatchlistMemesKey("u1"),
	}
	unaffected := []querycache.Key{
		querycache.WatchlistStatusKey("u1", 42),
		querycache.UserMemesKey("u1"),
		querycache.PaymentsKey("u1"),
	}
	for _, k := range append(append([]querycache.Key{}, affected...), unaffected...) {
		_, err := cache.Read(ctx, k, constFetcher(true))
		require.NoError(t, err)
	}

	hub.Notify(domain.CollectionLikes, "INSERT", map[string]any{"user_id": "u2", "meme_id": int64(42)}, nil)

	for _, k := range affected {
		_, ok := cache.Get(k)
		assert.False(t, ok, "%s should be invalidated", k)
	}
	for _, k := range unaffected {
		_, ok := cache.Get(k)
		assert.True(t, ok, "%s should survive", k)
	}
}

func TestReconciler_ObservedEntryRefetches(t *testing.T) {
	hub := changefeed.NewHub(observability.NopLogger())
	defer hub.Close()
	cache := querycache.New(querycache.Options{}, observability.NopLogger())
	defer cache.Close()

	m, err := New(hub, cache, nil, observability.NopLogger()).Mount(context.Background())
	require.NoError(t, err)
	defer m.Close()

	var calls atomic.Int32
	o := cache.Observe(querycache.FeaturedMemesKey(), func(context.Context) (any, error) {
		return calls.Add(1), nil
	})
	defer o.Close()
	require.Eventually(t, func() bool { _, ok := o.Data(); return ok }, time.Second, 5*time.Millisecond)

	hub.Notify(domain.CollectionMemes, "UPDATE", map[string]any{"id": int64(1), "is_featured": true}, nil)

	require.Eventually(t, func() bool {
		v, _ := o.Data()
		return v == int32(2)
	}, time.Second, 5*time.Millisecond)
}

func TestReconciler_UnknownEventStillInvalidates(t *testing.T) {
	cache := querycache.New(querycache.Options{}, observability.NopLogger())
	defer cache.Close()
	r := New(changefeed.NewHub(observability.NopLogger()), cache, nil, observability.NopLogger())

	_, _ = cache.Read(context.Background(), querycache.PaymentsKey("u1"), constFetcher(1))
	r.Handle(changefeed.Event{Collection: domain.CollectionPayments, Type: changefeed.EventUnknown})

	_, ok := cache.Get(querycache.PaymentsKey("u1"))
	assert.False(t, ok)
}

func TestMount_CloseIsIdempotentAndStopsInvalidation(t *testing.T) {
	hub := changefeed.NewHub(observability.NopLogger())
	defer hub.Close()
	cache := querycache.New(querycache.Options{}, observability.NopLogger())
	defer cache.Close()
	ctx := context.Background()

	r := New(hub, cache, nil, observability.NopLogger())
	first, err := r.Mount(ctx)
	require.NoError(t, err)
	second, err := r.Mount(ctx)
	require.NoError(t, err)

	first.Close()
	first.Close()

	_, _ = cache.Read(ctx, querycache.MemeKey(1), constFetcher(1))
	hub.Notify(domain.CollectionMemes, "UPDATE", map[string]any{"id": int64(1)}, nil)
	_, ok := cache.Get(querycache.MemeKey(1))
	assert.False(t, ok, "overlapping mount still active")

	second.Close()
	_, _ = cache.Read(ctx, querycache.MemeKey(1), constFetcher(1))
	hub.Notify(domain.CollectionMemes, "UPDATE", map[string]any{"id": int64(1)}, nil)
	_, ok = cache.Get(querycache.MemeKey(1))
	assert.True(t, ok, "no mount left")
}
