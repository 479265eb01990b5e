package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/storage"
)

func TestLikeStore_UniqueAndCounter(t *testing.T) {
	pool := newTestPool(t)

	memes := NewMemeStore(pool)
	likes := NewLikeStore(pool)
	ctx := context.Background()

	m := insertMeme(t, memes, "a", baseTime)

	require.NoError(t, likes.Insert(ctx, &domain.Like{UserID: "u1", MemeID: m.ID}))
	err := likes.Insert(ctx, &domain.Like{UserID: "u1", MemeID: m.ID})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := memes.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Likes, "duplicate must not increment")

	ok, err := likes.Exists(ctx, "u1", m.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := likes.GetMemeIDsByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int64{m.ID}, ids)

	require.NoError(t, likes.Delete(ctx, "u1", m.ID))
	assert.ErrorIs(t, likes.Delete(ctx, "u1", m.ID), storage.ErrNotFound)

	got, err = memes.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Likes)

	assert.ErrorIs(t, likes.Insert(ctx, &domain.Like{UserID: "u1", MemeID: m.ID + 1000}), storage.ErrNotFound)
}

func TestWatchlistStore_InsertDuplicateDelete(t *testing.T) {
	pool := newTestPool(t)

	memes := NewMemeStore(pool)
	wl := NewWatchlistStore(pool)
	ctx := context.Background()

	m := insertMeme(t, memes, "a", baseTime)

	require.NoError(t, wl.Insert(ctx, &domain.WatchlistEntry{UserID: "u1", MemeID: m.ID}))
	assert.ErrorIs(t, wl.Insert(ctx, &domain.WatchlistEntry{UserID: "u1", MemeID: m.ID}), storage.ErrDuplicateKey)

	got, err := memes.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Likes, "watchlist does not touch likes")

	require.NoError(t, wl.Delete(ctx, "u1", m.ID))
	ok, err := wl.Exists(ctx, "u1", m.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
