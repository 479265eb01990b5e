package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tuzemoon/internal/retry"
	"tuzemoon/internal/solana"
)

var (
	errOnChainFailure = errors.New("transaction failed on-chain")
	errConfirmTimeout = errors.New("confirmation timed out")
	// errVerificationPending is a verdict on a transaction the verifier's node
	// has not indexed yet.
	errVerificationPending = errors.New("payment verification pending")
)

// confirm waits until the submitted signature reaches the configured
// commitment. A websocket subscription is tried first when available;
// polling getSignatureStatuses is the fallback and the default.
func (r *run) confirm(ctx context.Context) error {
	w := r.w
	cctx, cancel := context.WithTimeout(ctx, w.cfg.ConfirmTimeout)
	defer cancel()

	if w.deps.WS != nil {
		n, err := w.deps.WS.WaitSignature(cctx, r.result.Signature, w.cfg.Commitment)
		switch {
		case err == nil && n.Err != nil:
			return fmt.Errorf("%w: %v", errOnChainFailure, n.Err)
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case cctx.Err() != nil:
			return errConfirmTimeout
		default:
			r.logger.Warn("signature subscription failed, polling", slog.Any("error", err))
		}
	}

	return r.poll(ctx, cctx)
}

func (r *run) poll(ctx, cctx context.Context) error {
	w := r.w
	for {
		statuses, err := retry.Value(cctx, w.policy(), func(ctx context.Context, _ int) ([]*solana.SignatureStatus, error) {
			return w.deps.RPC.GetSignatureStatuses(ctx, []string{r.result.Signature})
		})
		if err != nil {
			if ctx.Err() == nil && cctx.Err() != nil {
				return errConfirmTimeout
			}
			return err
		}

		if len(statuses) > 0 && statuses[0] != nil {
			st := statuses[0]
			if st.Err != nil {
				return fmt.Errorf("%w: %v", errOnChainFailure, st.Err)
			}
			if st.Reached(w.cfg.Commitment) {
				return nil
			}
		}

		select {
		case <-cctx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errConfirmTimeout
		case <-time.After(w.cfg.PollInterval):
		}
	}
}
