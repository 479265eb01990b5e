package functions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuzemoon/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := New(Config{BaseURL: server.URL + "/functions/v1/", APIKey: "anon-key"}, testLogger())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_VerifySolanaPayment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/functions/v1/verify-solana-payment", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer user-jwt", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sig-1", body["signature"])
		assert.Equal(t, float64(42), body["memeId"])
		assert.Equal(t, "0.1", body["amount"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"verified":true,"paymentId":"p-1"}`))
	})
	c.SetAccessToken("user-jwt")

	res, err := c.VerifySolanaPayment(context.Background(), VerifyPaymentRequest{
		Signature:     "sig-1",
		WalletAddress: "wallet",
		MemeID:        42,
		UserID:        "u-1",
		Amount:        decimal.RequireFromString("0.1"),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Verified)
	assert.True(t, *res.Verified)
	assert.Equal(t, "p-1", res.PaymentID)
}

func TestClient_VerifySolanaPayment_Rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"verified":false,"reason":"amount too low"}`))
	})

	res, err := c.VerifySolanaPayment(context.Background(), VerifyPaymentRequest{Signature: "s"})
	require.NoError(t, err)
	assert.False(t, *res.Verified)
	assert.Equal(t, "amount too low", res.Reason)
}

func TestClient_VerifySolanaPayment_MalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})

	_, err := c.VerifySolanaPayment(context.Background(), VerifyPaymentRequest{Signature: "s"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestClient_Invoke_ServerErrorIsRetriable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream","message":"rpc down"}`))
	})

	err := c.NotifyTelegram(context.Background(), TelegramNotice{MemeID: 1})
	require.Error(t, err)
	assert.True(t, domain.IsRetriable(err))

	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, http.StatusBadGateway, ferr.Status)
	assert.Equal(t, "upstream rpc down", ferr.Message)
}

func TestClient_Invoke_ClientErrorIsFatal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`bad input`))
	})

	_, err := c.GenerateNonce(context.Background(), "wallet")
	require.Error(t, err)
	assert.False(t, domain.IsRetriable(err))

	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, FnGenerateNonce, ferr.Function)
	assert.Equal(t, http.StatusBadRequest, ferr.Status)
}

func TestClient_Invoke_TransportErrorIsRetriable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := New(Config{BaseURL: url}, testLogger())
	defer c.Close()

	err := c.NotifyTelegram(context.Background(), TelegramNotice{MemeID: 1})
	require.Error(t, err)
	assert.True(t, domain.IsRetriable(err))
}

func TestClient_WalletSignIn(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/functions/v1/generate-nonce":
			w.Write([]byte(`{"nonce":"sign-me-123"}`))
		case "/functions/v1/verify-wallet-signature":
			var body walletSignatureRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			valid := body.Nonce == "sign-me-123" && body.Signature == "good"
			json.NewEncoder(w).Encode(map[string]bool{"valid": valid})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	nonce, err := c.GenerateNonce(context.Background(), "wallet")
	require.NoError(t, err)
	assert.Equal(t, "sign-me-123", nonce)

	ok, err := c.VerifyWalletSignature(context.Background(), "wallet", nonce, "good")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.VerifyWalletSignature(context.Background(), "wallet", nonce, "forged")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_AnalyzeContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"allowed":false,"labels":["nsfw"],"reason":"explicit"}`))
	})

	res, err := c.AnalyzeContent(context.Background(), AnalyzeRequest{ImageURL: "https://img/x.png", Title: "x"})
	require.NoError(t, err)
	assert.False(t, *res.Allowed)
	assert.Equal(t, []string{"nsfw"}, res.Labels)
}
