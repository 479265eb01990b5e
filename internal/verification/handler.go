package verification

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"tuzemoon/internal/functions"
	"tuzemoon/internal/observability"
)

// Path is where the handler is mounted, matching the functions client.
const Path = "/functions/v1/" + functions.FnVerifySolanaPayment

// maxBodyBytes bounds the request body.
const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the verify-solana-payment function.
type Handler struct {
	verifier Verifier
	logger   *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(v Verifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handler{verifier: v, logger: logger}
}

// ServeHTTP implements http.Handler.
//
// 200 carries the verdict, 400 a malformed claim and 502 an unreachable node,
// so the caller retries only the last case.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	var req functions.VerifyPaymentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}

	result, err := h.verifier.Verify(r.Context(), req)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case err != nil:
		h.logger.Error("payment verification failed", "signature", req.Signature, "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "solana node unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, result.Response())
}

// VerifySolanaPayment lets a ChainVerifier stand in for the remote function.
func (v *ChainVerifier) VerifySolanaPayment(ctx context.Context, req functions.VerifyPaymentRequest) (*functions.VerifyPaymentResponse, error) {
	result, err := v.Verify(ctx, req)
	if err != nil {
		return nil, err
	}
	return result.Response(), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
