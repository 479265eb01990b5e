// Package verification checks submitted Solana fee transfers against the chain
// before a payment is settled. It backs the verify-solana-payment function.
package verification

import (
	"context"
	"fmt"
	"strings"

	"tuzemoon/internal/functions"
	"tuzemoon/internal/solana"
)

// Divergence is one way the on-chain transaction differs from the claim.
type Divergence struct {
	Field    string      // checked property
	Expected interface{} // required value
	Actual   interface{} // observed value
}

func (d Divergence) String() string {
	return fmt.Sprintf("%s: expected %v, got %v", d.Field, d.Expected, d.Actual)
}

// Result is the verdict for one claimed payment.
type Result struct {
	Signature string
	Verified  bool
	// Pending is set when the transaction is not visible yet. The payment is
	// left untouched and the claim can be retried.
	Pending     bool
	Divergences []Divergence
	Lamports    uint64 // amount transferred to the recipient by the claimed wallet
	PaymentID   string // set when the payment record was settled
}

// Reason joins the divergences into a human readable message.
func (r *Result) Reason() string {
	if r.Verified {
		return ""
	}
	parts := make([]string, len(r.Divergences))
	for i, d := range r.Divergences {
		parts[i] = d.String()
	}
	return strings.Join(parts, "; ")
}

// Response converts the result to the function's wire shape.
func (r *Result) Response() *functions.VerifyPaymentResponse {
	verified := r.Verified
	status := functions.VerifyStatusRejected
	switch {
	case r.Verified:
		status = functions.VerifyStatusVerified
	case r.Pending:
		status = functions.VerifyStatusPending
	}
	return &functions.VerifyPaymentResponse{
		Verified:  &verified,
		Status:    status,
		Reason:    r.Reason(),
		PaymentID: r.PaymentID,
	}
}

// Verifier decides whether a claimed payment happened on-chain.
type Verifier interface {
	// Verify checks the transaction named in req and settles the matching
	// payment record. A nil error with Verified false is a rejection; an
	// error means the chain could not be consulted.
	Verify(ctx context.Context, req functions.VerifyPaymentRequest) (*Result, error)
}

// CompareTransfer checks a confirmed transaction against the expected fee
// transfer and returns every divergence together with the matched amount.
func CompareTransfer(tx *solana.ParsedTransaction, wallet, recipient string, minLamports uint64) ([]Divergence, uint64) {
	var divergences []Divergence

	if tx.Meta == nil {
		return []Divergence{{Field: "meta", Expected: "present", Actual: "missing"}}, 0
	}
	if tx.Meta.Err != nil {
		divergences = append(divergences, Divergence{
			Field:    "status",
			Expected: "success",
			Actual:   tx.Meta.Err,
		})
	}

	var toRecipient, fromWallet uint64
	var sources []string
	for _, t := range tx.Message.Transfers() {
		if t.Destination != recipient {
			continue
		}
		toRecipient += t.Lamports
		if t.Source == wallet {
			fromWallet += t.Lamports
		} else {
			sources = append(sources, t.Source)
		}
	}

	switch {
	case toRecipient == 0:
		divergences = append(divergences, Divergence{
			Field:    "recipient",
			Expected: recipient,
			Actual:   "no transfer",
		})
	case fromWallet == 0:
		divergences = append(divergences, Divergence{
			Field:    "source",
			Expected: wallet,
			Actual:   strings.Join(sources, ","),
		})
	case fromWallet < minLamports:
		divergences = append(divergences, Divergence{
			Field:    "lamports",
			Expected: minLamports,
			Actual:   fromWallet,
		})
	}

	return divergences, fromWallet
}
