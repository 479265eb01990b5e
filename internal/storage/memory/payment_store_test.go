package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/storage"
)

func TestPaymentStore_StatusTransitions(t *testing.T) {
	store := NewPaymentStore(nil)
	ctx := context.Background()

	p := &domain.Payment{
		ID:            "pay-1",
		UserID:        "u1",
		MemeID:        42,
		Amount:        decimal.RequireFromString("0.1"),
		Signature:     "sig-1",
		WalletAddress: "wallet-1",
		Status:        domain.PaymentPending,
		CreatedAt:     baseTime,
	}
	if err := store.Insert(ctx, p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	dup := *p
	dup.ID = "pay-2"
	if err := store.Insert(ctx, &dup); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("duplicate signature: expected ErrDuplicateKey, got %v", err)
	}

	if err := store.UpdateStatus(ctx, "pay-1", domain.PaymentSuccess, nil); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	msg := "late failure"
	if err := store.UpdateStatus(ctx, "pay-1", domain.PaymentFailed, &msg); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("reopen: expected ErrInvalidTransition, got %v", err)
	}

	got, err := store.GetBySignature(ctx, "sig-1")
	if err != nil {
		t.Fatalf("GetBySignature failed: %v", err)
	}
	if got.Status != domain.PaymentSuccess {
		t.Errorf("status: got %s, want success", got.Status)
	}
	if !got.Amount.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("amount: got %s", got.Amount)
	}

	if err := store.UpdateStatus(ctx, "missing", domain.PaymentFailed, nil); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	byUser, _ := store.GetByUser(ctx, "u1")
	if len(byUser) != 1 {
		t.Errorf("GetByUser: got %d, want 1", len(byUser))
	}
}
