package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuzemoon/internal/observability"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c := New(Options{}, observability.NopLogger())
	t.Cleanup(c.Close)
	return c
}

// countingFetcher returns its call number, optionally blocking on gate.
type countingFetcher struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (f *countingFetcher) fetch(ctx context.Context) (any, error) {
	n := f.calls.Add(1)
	if f.gate != nil && n > 1 {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return int(n), nil
}

func waitData(t *testing.T, o *Observer, want any) {
	t.Helper()
	require.Eventually(t, func() bool {
		v, ok := o.Data()
		return ok && v == want
	}, time.Second, 5*time.Millisecond)
}

func TestKey_StringIsCanonical(t *testing.T) {
	a := NewKey("memes", "page", "0", "chain", "solana")
	b := Key{Prefix: "memes", Params: map[string]string{"chain": "solana", "page": "0"}}
	assert.Equal(t, "memes?chain=solana&page=0", a.String())
	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, "featured-memes", FeaturedMemesKey().String())

	assert.True(t, Exact(a)(b))
	assert.True(t, Prefix("memes")(a))
	assert.False(t, Prefix("meme")(a))
	assert.True(t, PrefixWhere("like-status", "user", "u1")(LikeStatusKey("u1", 42)))
	assert.False(t, PrefixWhere("like-status", "user", "u2")(LikeStatusKey("u1", 42)))
}

func TestCache_ReadCachesUntilInvalidated(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	f := &countingFetcher{}
	key := MemeKey(42)

	v, err := c.Read(ctx, key, f.fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = c.Read(ctx, key, f.fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v, "second read served from cache")

	assert.Equal(t, 1, c.Invalidate(Prefix(PrefixMeme)))
	_, ok := c.Get(key)
	assert.False(t, ok, "unobserved entry dropped on invalidation")

	v, err = c.Read(ctx, key, f.fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestCache_ConcurrentReadsShareFetch(t *testing.T) {
	c := newTestCache(t)
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "meme", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Read(context.Background(), MemeKey(1), fetch)
			assert.NoError(t, err)
			assert.Equal(t, "meme", v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_InvalidateTwice_SingleRefetch(t *testing.T) {
	c := newTestCache(t)
	f := &countingFetcher{gate: make(chan struct{})}

	o := c.Observe(NewKey(PrefixMemes, "page", "0"), f.fetch)
	defer o.Close()
	waitData(t, o, 1)

	// both land before the refetch goroutine can start its fetch
	c.mu.Lock()
	assert.Equal(t, 1, c.invalidateLocked(Prefix(PrefixMemes)))
	assert.Equal(t, 1, c.invalidateLocked(Prefix(PrefixMemes)))
	c.mu.Unlock()

	close(f.gate)
	waitData(t, o, 2)

	// no further refetch arrives
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestCache_InvalidateDuringFetch_Converges(t *testing.T) {
	c := newTestCache(t)

	var server, fetches atomic.Int32
	server.Store(1)
	started := make(chan struct{}, 4)
	gate := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		n := fetches.Add(1)
		snapshot := server.Load()
		if n == 2 {
			started <- struct{}{}
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return int(snapshot), nil
	}

	o := c.Observe(NewKey(PrefixMemes, "page", "0"), fetch)
	defer o.Close()
	waitData(t, o, 1)

	server.Store(2)
	c.Invalidate(Prefix(PrefixMemes))
	<-started // the refetch has read server=2

	server.Store(3)
	c.Invalidate(Prefix(PrefixMemes))
	close(gate)

	waitData(t, o, 3)
	assert.Equal(t, int32(3), fetches.Load(), "one extra refetch for the late change")

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), fetches.Load())
	v, ok := c.Get(NewKey(PrefixMemes, "page", "0"))
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestCache_RevisionAdvancesOnFetchOnly(t *testing.T) {
	c := newTestCache(t)
	f := &countingFetcher{}
	key := NewKey(PrefixMemes, "page", "0")

	o := c.Observe(key, f.fetch)
	defer o.Close()
	waitData(t, o, 1)

	revision := func() uint64 {
		var rev uint64
		c.UpdateRevisions(Exact(key), func(_ Key, r uint64, old any) any {
			rev = r
			return old
		})
		return rev
	}

	first := revision()
	require.NotZero(t, first)

	c.SetData(key, func(old any) any { return old.(int) + 10 })
	assert.Equal(t, first, revision(), "local edits keep the revision")

	c.Invalidate(Exact(key))
	waitData(t, o, 2)
	assert.Greater(t, revision(), first)
}

func TestCache_ResultAfterInvalidationIgnored(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := MemeKey(7)

	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(context.Context) (any, error) {
		close(started)
		<-release
		return "old", nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := c.Read(ctx, key, slow)
		assert.NoError(t, err)
		assert.Equal(t, "old", v, "caller still receives its own result")
	}()

	<-started
	c.Invalidate(Exact(key))
	close(release)
	<-done

	_, ok := c.Get(key)
	assert.False(t, ok, "superseded result must not be cached")
}

func TestCache_RefetchErrorKeepsData(t *testing.T) {
	c := newTestCache(t)
	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return "v1", nil
		}
		return nil, errors.New("backend down")
	}

	o := c.Observe(FeaturedMemesKey(), fetch)
	defer o.Close()
	waitData(t, o, "v1")

	c.Invalidate(Prefix(PrefixFeaturedMemes))
	require.Eventually(t, func() bool { return o.Err() != nil }, time.Second, 5*time.Millisecond)

	v, ok := o.Data()
	assert.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestCache_SetDataAndUpdateWhere(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	one := func(context.Context) (any, error) { return 1, nil }

	_, _ = c.Read(ctx, NewKey(PrefixMemes, "page", "0"), one)
	_, _ = c.Read(ctx, NewKey(PrefixMemes, "page", "1"), one)
	_, _ = c.Read(ctx, MemeKey(1), one)

	n := c.UpdateWhere(Prefix(PrefixMemes), func(_ Key, old any) any { return old.(int) + 10 })
	assert.Equal(t, 2, n)

	assert.True(t, c.SetData(MemeKey(1), func(old any) any { return old.(int) * 5 }))
	assert.False(t, c.SetData(MemeKey(2), func(old any) any { return 0 }))

	v, _ := c.Get(NewKey(PrefixMemes, "page", "1"))
	assert.Equal(t, 11, v)
	v, _ = c.Get(MemeKey(1))
	assert.Equal(t, 5, v)
}

func TestCache_CloseDropsLateResults(t *testing.T) {
	c := New(Options{}, observability.NopLogger())
	f := &countingFetcher{gate: make(chan struct{})}

	o := c.Observe(MemeKey(1), f.fetch)
	waitData(t, o, 1)
	c.Invalidate(Prefix(PrefixMeme))

	c.Close()
	for range o.Updates() {
		// drain until closed
	}

	_, err := c.Read(context.Background(), MemeKey(1), f.fetch)
	assert.ErrorIs(t, err, ErrClosed)
	o.Close()
}

func TestCache_StaleTimeExpiresData(t *testing.T) {
	c := New(Options{StaleTime: time.Minute}, observability.NopLogger())
	t.Cleanup(c.Close)
	now := time.Now()
	c.now = func() time.Time { return now }

	f := &countingFetcher{}
	key := NewKey(PrefixMemes, "page", "0")
	ctx := context.Background()

	v, err := c.Read(ctx, key, f.fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	now = now.Add(30 * time.Second)
	v, err = c.Read(ctx, key, f.fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v, "fresh within stale time")

	now = now.Add(time.Minute)
	v, err = c.Read(ctx, key, f.fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, v, "expired data is fetched again without an invalidation")
}
