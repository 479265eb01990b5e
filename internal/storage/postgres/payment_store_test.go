package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/storage"
)

func TestPaymentStore_InsertAndTransition(t *testing.T) {
	pool := newTestPool(t)

	store := NewPaymentStore(pool)
	ctx := context.Background()

	p := &domain.Payment{
		ID:            "pay-1",
		UserID:        "u1",
		MemeID:        42,
		Amount:        decimal.RequireFromString("0.1"),
		Signature:     "5sig",
		WalletAddress: "wallet",
		Status:        domain.PaymentPending,
		CreatedAt:     baseTime,
	}
	require.NoError(t, store.Insert(ctx, p))
	assert.ErrorIs(t, store.Insert(ctx, p), storage.ErrDuplicateKey)

	got, err := store.GetBySignature(ctx, "5sig")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, got.Status)
	assert.True(t, got.Amount.Equal(p.Amount), "amount %s", got.Amount)

	msg := "verification failed"
	require.NoError(t, store.UpdateStatus(ctx, "pay-1", domain.PaymentFailed, &msg))
	assert.ErrorIs(t, store.UpdateStatus(ctx, "pay-1", domain.PaymentSuccess, nil), storage.ErrInvalidTransition)
	assert.ErrorIs(t, store.UpdateStatus(ctx, "missing", domain.PaymentSuccess, nil), storage.ErrNotFound)

	got, err = store.GetByID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, msg, *got.ErrorMessage)

	byUser, err := store.GetByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, byUser, 1)
}

func TestUserStore_InsertAndGet(t *testing.T) {
	pool := newTestPool(t)

	store := NewUserStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &domain.User{ID: "admin-1", Email: "a@example.com", IsAdmin: true}))
	assert.ErrorIs(t, store.Insert(ctx, &domain.User{ID: "admin-1"}), storage.ErrDuplicateKey)

	u, err := store.GetByID(ctx, "admin-1")
	require.NoError(t, err)
	assert.True(t, u.CanFeatureWithoutPayment())

	_, err = store.GetByID(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
