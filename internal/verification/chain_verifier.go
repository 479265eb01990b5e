package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/functions"
	"tuzemoon/internal/observability"
	"tuzemoon/internal/retry"
	"tuzemoon/internal/solana"
	"tuzemoon/internal/storage"
)

var (
	// ErrInvalidRequest is returned when the claim is missing required fields.
	ErrInvalidRequest = errors.New("invalid verification request")

	// ErrTransactionNotFound is returned by the lookup while the node has not
	// indexed the transaction yet.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// ChainVerifier implements Verifier against a Solana RPC node.
type ChainVerifier struct {
	rpc         solana.RPCClient
	payments    storage.PaymentStore
	recipient   solana.PublicKey
	minLamports uint64
	lookup      retry.Policy
	logger      *slog.Logger
	now         func() time.Time
}

// Options contains configuration for creating a ChainVerifier.
type Options struct {
	RPC      solana.RPCClient
	Payments storage.PaymentStore
	// Recipient is the fee wallet every payment must credit.
	Recipient solana.PublicKey
	// MinLamports is the smallest accepted fee.
	MinLamports uint64
	// Lookup governs re-reads while the transaction is not yet visible.
	// Zero value means 5 attempts 1s apart.
	Lookup retry.Policy
	Logger *slog.Logger
	Now    func() time.Time
}

// NewChainVerifier creates a new ChainVerifier.
func NewChainVerifier(opts Options) (*ChainVerifier, error) {
	if opts.RPC == nil || opts.Payments == nil {
		return nil, errors.New("verification: rpc and payment store are required")
	}
	if opts.MinLamports == 0 {
		return nil, errors.New("verification: minimum fee must be positive")
	}
	if opts.Lookup.MaxAttempts == 0 {
		opts.Lookup = retry.Fixed(5, time.Second)
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ChainVerifier{
		rpc:         opts.RPC,
		payments:    opts.Payments,
		recipient:   opts.Recipient,
		minLamports: opts.MinLamports,
		lookup: opts.Lookup.WithClassifier(func(err error) bool {
			return errors.Is(err, ErrTransactionNotFound)
		}),
		logger: opts.Logger.With("component", "payment_verifier"),
		now:    opts.Now,
	}, nil
}

// Verify implements Verifier.
func (v *ChainVerifier) Verify(ctx context.Context, req functions.VerifyPaymentRequest) (*Result, error) {
	wallet, err := validate(req)
	if err != nil {
		return nil, err
	}

	log := v.logger.With("signature", req.Signature, "meme_id", req.MemeID, "user_id", req.UserID)
	result := &Result{Signature: req.Signature}

	tx, err := retry.Value(ctx, v.lookup, func(ctx context.Context, _ int) (*solana.ParsedTransaction, error) {
		tx, err := v.rpc.GetTransaction(ctx, req.Signature)
		if err != nil {
			return nil, err
		}
		if tx == nil {
			return nil, ErrTransactionNotFound
		}
		return tx, nil
	})
	if errors.Is(err, ErrTransactionNotFound) {
		// Not settled as failed: the node may still be catching up.
		result.Pending = true
		result.Divergences = []Divergence{{Field: "transaction", Expected: "confirmed", Actual: "not found"}}
		log.Warn("payment transaction not found")
		observability.RecordVerification("not_found")
		return result, nil
	}
	if err != nil {
		observability.RecordVerification("error")
		return nil, fmt.Errorf("fetch transaction %s: %w", req.Signature, err)
	}

	result.Divergences, result.Lamports = CompareTransfer(tx, wallet.String(), v.recipient.String(), v.minLamports)
	if len(result.Divergences) > 0 {
		log.Warn("payment rejected", "reason", result.Reason())
		observability.RecordVerification("rejected")
		if err := v.markFailed(ctx, req.Signature, result.Reason()); err != nil {
			return nil, err
		}
		return result, nil
	}

	id, divergence, err := v.settle(ctx, req, wallet, result.Lamports)
	if err != nil {
		observability.RecordVerification("error")
		return nil, err
	}
	if divergence != nil {
		result.Divergences = []Divergence{*divergence}
		log.Warn("payment rejected", "reason", result.Reason())
		observability.RecordVerification("rejected")
		return result, nil
	}

	result.Verified = true
	result.PaymentID = id
	log.Info("payment verified", "payment_id", id, "lamports", result.Lamports)
	observability.RecordVerification("verified")
	return result, nil
}

// settle records the verified payment. A signature already bound to another
// user or meme, or a payment already failed, yields a divergence instead.
func (v *ChainVerifier) settle(ctx context.Context, req functions.VerifyPaymentRequest, wallet solana.PublicKey, lamports uint64) (string, *Divergence, error) {
	for attempt := 0; attempt < 2; attempt++ {
		p, err := v.payments.GetBySignature(ctx, req.Signature)
		if errors.Is(err, storage.ErrNotFound) {
			now := v.now().UTC()
			p = &domain.Payment{
				ID:            uuid.NewString(),
				UserID:        req.UserID,
				MemeID:        req.MemeID,
				Amount:        domain.LamportsToSOL(lamports),
				Signature:     req.Signature,
				WalletAddress: wallet.String(),
				Status:        domain.PaymentSuccess,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			err = v.payments.Insert(ctx, p)
			if errors.Is(err, storage.ErrDuplicateKey) {
				// The client recorded it concurrently.
				continue
			}
			if err != nil {
				return "", nil, fmt.Errorf("insert payment: %w", err)
			}
			return p.ID, nil, nil
		}
		if err != nil {
			return "", nil, fmt.Errorf("load payment: %w", err)
		}

		if p.UserID != req.UserID || p.MemeID != req.MemeID {
			return "", &Divergence{
				Field:    "payment",
				Expected: fmt.Sprintf("user %s meme %d", req.UserID, req.MemeID),
				Actual:   fmt.Sprintf("user %s meme %d", p.UserID, p.MemeID),
			}, nil
		}

		switch p.Status {
		case domain.PaymentSuccess:
			return p.ID, nil, nil
		case domain.PaymentFailed:
			return "", &Divergence{Field: "payment status", Expected: domain.PaymentPending, Actual: p.Status}, nil
		}

		err = v.payments.UpdateStatus(ctx, p.ID, domain.PaymentSuccess, nil)
		if errors.Is(err, storage.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("settle payment %s: %w", p.ID, err)
		}
		return p.ID, nil, nil
	}
	return "", nil, fmt.Errorf("settle payment %s: concurrent update", req.Signature)
}

// markFailed settles a pending record for a rejected transaction.
func (v *ChainVerifier) markFailed(ctx context.Context, signature, reason string) error {
	p, err := v.payments.GetBySignature(ctx, signature)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load payment: %w", err)
	}
	if p.Status != domain.PaymentPending {
		return nil
	}
	err = v.payments.UpdateStatus(ctx, p.ID, domain.PaymentFailed, &reason)
	if err != nil && !errors.Is(err, storage.ErrInvalidTransition) {
		return fmt.Errorf("fail payment %s: %w", p.ID, err)
	}
	return nil
}

func validate(req functions.VerifyPaymentRequest) (solana.PublicKey, error) {
	if req.Signature == "" || req.UserID == "" || req.MemeID <= 0 {
		return solana.PublicKey{}, fmt.Errorf("%w: signature, userId and memeId are required", ErrInvalidRequest)
	}
	wallet, err := solana.ParsePublicKey(req.WalletAddress)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: wallet address: %v", ErrInvalidRequest, err)
	}
	return wallet, nil
}
