package changefeed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuzemoon/internal/observability"
)

func TestHub_SharedChannelIndependentHandlers(t *testing.T) {
	hub := NewHub(observability.NopLogger())
	defer hub.Close()
	ctx := context.Background()

	var a, b atomic.Int32
	sub := Subscription{Collection: "likes"}

	unsubA, err := hub.Subscribe(ctx, sub, func(Event) { a.Add(1) })
	require.NoError(t, err)
	unsubB, err := hub.Subscribe(ctx, sub, func(Event) { b.Add(1) })
	require.NoError(t, err)

	assert.Len(t, hub.d.active(), 1, "same subscription shares one channel")

	hub.Publish(Event{Collection: "likes", Type: EventInsert})
	assert.Equal(t, int32(1), a.Load())
	assert.Equal(t, int32(1), b.Load())

	unsubA()
	unsubA()
	hub.Publish(Event{Collection: "likes", Type: EventDelete})
	assert.Equal(t, int32(1), a.Load())
	assert.Equal(t, int32(2), b.Load())

	unsubB()
	assert.Empty(t, hub.d.active())
}

func TestHub_FilteredSubscription(t *testing.T) {
	hub := NewHub(observability.NopLogger())
	defer hub.Close()
	ctx := context.Background()

	var filtered, all atomic.Int32
	_, err := hub.Subscribe(ctx, Subscription{Collection: "likes", Filter: Eq("meme_id", 42)}, func(Event) { filtered.Add(1) })
	require.NoError(t, err)
	_, err = hub.Subscribe(ctx, Subscription{Collection: "likes"}, func(Event) { all.Add(1) })
	require.NoError(t, err)

	hub.Notify("likes", "INSERT", map[string]any{"meme_id": int64(42), "user_id": "u1"}, nil)
	hub.Notify("likes", "DELETE", nil, map[string]any{"meme_id": float64(42)})
	hub.Notify("likes", "INSERT", map[string]any{"meme_id": int64(7)}, nil)
	hub.Notify("memes", "UPDATE", map[string]any{"id": int64(42)}, nil)

	assert.Equal(t, int32(2), filtered.Load())
	assert.Equal(t, int32(3), all.Load())
}

func TestHub_HandlerPanicDoesNotAffectOthers(t *testing.T) {
	hub := NewHub(observability.NopLogger())
	defer hub.Close()
	ctx := context.Background()

	var called atomic.Bool
	_, err := hub.Subscribe(ctx, Subscription{Collection: "memes"}, func(Event) { panic("boom") })
	require.NoError(t, err)
	_, err = hub.Subscribe(ctx, Subscription{Collection: "memes"}, func(Event) { called.Store(true) })
	require.NoError(t, err)

	hub.Publish(Event{Collection: "memes", Type: EventUpdate})
	assert.True(t, called.Load())
}

func TestHub_SubscribeAfterClose(t *testing.T) {
	hub := NewHub(observability.NopLogger())
	require.NoError(t, hub.Close())

	_, err := hub.Subscribe(context.Background(), Subscription{Collection: "memes"}, func(Event) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDispatcher_ResyncSignalsEachChannelOnce(t *testing.T) {
	hub := NewHub(observability.NopLogger())
	defer hub.Close()
	ctx := context.Background()

	var got []Event
	record := func(e Event) { got = append(got, e) }
	_, err := hub.Subscribe(ctx, Subscription{Collection: "memes"}, record)
	require.NoError(t, err)
	_, err = hub.Subscribe(ctx, Subscription{Collection: "likes", Filter: Eq("meme_id", 42)}, record)
	require.NoError(t, err)

	assert.Equal(t, 2, hub.d.resync())
	require.Len(t, got, 2, "filtered channels are signalled too")
	assert.ElementsMatch(t, []string{"memes", "likes"}, []string{got[0].Collection, got[1].Collection})
	for _, e := range got {
		assert.Equal(t, EventUnknown, e.Type)
	}
}
