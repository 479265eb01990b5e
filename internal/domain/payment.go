package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a Tuzemoon payment.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// IsValid checks if the status is a known value.
func (s PaymentStatus) IsValid() bool {
	return s == PaymentPending || s == PaymentSuccess || s == PaymentFailed
}

// IsTerminal reports whether no further transitions are allowed.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentSuccess || s == PaymentFailed
}

// Payment records one on-chain fee transfer for a featured slot.
// Corresponds to tuzemoon_payments table in PostgreSQL.
type Payment struct {
	ID            string
	UserID        string
	MemeID        int64
	Amount        decimal.Decimal // SOL
	Signature     string          // base58 transaction signature
	WalletAddress string          // base58 payer public key
	Status        PaymentStatus
	ErrorMessage  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transition moves a pending payment to a terminal status.
// Terminal payments are never reopened.
func (p *Payment) Transition(to PaymentStatus, errMsg string, now time.Time) error {
	if !to.IsTerminal() {
		return fmt.Errorf("payment %s: invalid target status %q", p.ID, to)
	}
	if p.Status != PaymentPending {
		return fmt.Errorf("payment %s: cannot move from %s to %s", p.ID, p.Status, to)
	}
	p.Status = to
	if errMsg != "" {
		p.ErrorMessage = &errMsg
	}
	p.UpdatedAt = now
	return nil
}

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// SOLToLamports converts a SOL amount to lamports, truncating sub-lamport precision.
func SOLToLamports(sol decimal.Decimal) uint64 {
	return uint64(sol.Shift(9).IntPart())
}

// LamportsToSOL converts lamports to a SOL amount.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(lamports)).Shift(-9)
}

// PaymentEvent is one workflow state transition, kept for diagnosis.
// Corresponds to payment_events table in ClickHouse.
type PaymentEvent struct {
	AttemptID  string // one workflow run
	UserID     string
	MemeID     int64
	State      string
	Signature  string // empty until submitted
	Error      string
	OccurredAt time.Time
}
