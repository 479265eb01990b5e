package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/storage"
)

func TestPaymentEventStore_InsertAndGet(t *testing.T) {
	conn := newTestConn(t)

	store := NewPaymentEventStore(conn)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	states := []string{"wallet_connecting", "wallet_connected", "awaiting_signature", "failed"}
	for i, state := range states {
		e := &domain.PaymentEvent{
			AttemptID:  "attempt-1",
			UserID:     "u1",
			MemeID:     42,
			State:      state,
			OccurredAt: base.Add(time.Duration(i) * time.Second),
		}
		if state == "failed" {
			e.Error = "user rejected"
		}
		require.NoError(t, store.Insert(ctx, e))
	}
	require.NoError(t, store.Insert(ctx, &domain.PaymentEvent{
		AttemptID: "attempt-2", UserID: "u2", MemeID: 7, State: "wallet_connecting", OccurredAt: base,
	}))

	got, err := store.GetByAttemptID(ctx, "attempt-1")
	require.NoError(t, err)
	require.Len(t, got, len(states))
	for i, e := range got {
		assert.Equal(t, states[i], e.State)
		assert.Equal(t, int64(42), e.MemeID)
	}
	assert.Equal(t, "user rejected", got[3].Error)
	assert.True(t, got[0].OccurredAt.Equal(base))
}

func TestPaymentEventStore_InvalidInput(t *testing.T) {
	store := NewPaymentEventStore(nil)
	err := store.Insert(context.Background(), &domain.PaymentEvent{State: "idle"})
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))
}
