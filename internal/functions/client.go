// Package functions is a client for the backend's serverless functions.
package functions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"resty.dev/v3"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/observability"
)

// ErrMalformedResponse is returned when a function answers 2xx with a body
// that does not carry the expected fields.
var ErrMalformedResponse = errors.New("malformed function response")

// Error is a non-2xx answer from a function.
type Error struct {
	Function string
	Status   int
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("function %s: status %d: %s", e.Function, e.Status, e.Message)
}

// IsRetriable reports whether the failure is on the server side.
func (e *Error) IsRetriable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Config configures the functions client.
type Config struct {
	// BaseURL is the functions root, e.g. https://<project>.supabase.co/functions/v1
	BaseURL string
	// APIKey is the project's anon key, sent on every call.
	APIKey  string
	Timeout time.Duration
}

// Client invokes serverless functions over HTTP.
type Client struct {
	client *resty.Client
	logger *slog.Logger

	mu          sync.RWMutex
	accessToken string
}

// New creates a client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("apikey", cfg.APIKey)
	}
	client.AddResponseMiddleware(metricMiddleware)

	return &Client{
		client:      client,
		logger:      logger.With("component", "functions"),
		accessToken: cfg.APIKey,
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.client.Close()
}

// SetAccessToken sets the bearer token for subsequent calls, typically the
// signed-in user's JWT. An empty token sends no Authorization header.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

func (c *Client) r(ctx context.Context) *resty.Request {
	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()

	req := c.client.R().SetContext(ctx)
	if token != "" {
		req.SetAuthToken(token)
	}
	return req
}

// Invoke POSTs body to the named function and decodes a 2xx answer into out.
// Transport failures and 5xx answers are retriable network errors.
func (c *Client) Invoke(ctx context.Context, name string, body, out interface{}) error {
	req := c.r(ctx).SetBody(body).SetError(&errorBody{})
	if out != nil {
		req.SetResult(out)
	}

	res, err := req.Post("/" + name)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.NewNetworkError(name, err)
	}

	if res.IsError() {
		var msg string
		if eb, ok := res.Error().(*errorBody); ok && eb != nil {
			msg = strings.TrimSpace(eb.Error + " " + eb.Message)
		}
		if msg == "" {
			msg = res.String()
		}
		ferr := &Error{Function: name, Status: res.StatusCode(), Message: msg}
		c.logger.Warn("function call failed",
			"function", name,
			"status", res.StatusCode(),
			"error", msg,
		)
		if ferr.IsRetriable() {
			return domain.NewNetworkError(name, ferr)
		}
		return ferr
	}
	return nil
}

// VerifySolanaPayment asks the backend to verify a submitted payment. A
// negative verdict is returned as a response with Verified=false, not an error.
func (c *Client) VerifySolanaPayment(ctx context.Context, req VerifyPaymentRequest) (*VerifyPaymentResponse, error) {
	var out VerifyPaymentResponse
	if err := c.Invoke(ctx, FnVerifySolanaPayment, req, &out); err != nil {
		return nil, err
	}
	if out.Verified == nil {
		return nil, fmt.Errorf("%s: missing verified: %w", FnVerifySolanaPayment, ErrMalformedResponse)
	}
	return &out, nil
}

// NotifyTelegram posts a notice to the community channel.
func (c *Client) NotifyTelegram(ctx context.Context, notice TelegramNotice) error {
	return c.Invoke(ctx, FnNotifyTelegram, notice, nil)
}

// GenerateNonce returns a one-time message for wallet sign-in.
func (c *Client) GenerateNonce(ctx context.Context, walletAddress string) (string, error) {
	var out nonceResponse
	if err := c.Invoke(ctx, FnGenerateNonce, nonceRequest{WalletAddress: walletAddress}, &out); err != nil {
		return "", err
	}
	if out.Nonce == "" {
		return "", fmt.Errorf("%s: empty nonce: %w", FnGenerateNonce, ErrMalformedResponse)
	}
	return out.Nonce, nil
}

// VerifyWalletSignature checks a signed nonce.
func (c *Client) VerifyWalletSignature(ctx context.Context, walletAddress, nonce, signature string) (bool, error) {
	var out walletSignatureResponse
	in := walletSignatureRequest{WalletAddress: walletAddress, Nonce: nonce, Signature: signature}
	if err := c.Invoke(ctx, FnVerifyWalletSignature, in, &out); err != nil {
		return false, err
	}
	if out.Valid == nil {
		return false, fmt.Errorf("%s: missing valid: %w", FnVerifyWalletSignature, ErrMalformedResponse)
	}
	return *out.Valid, nil
}

// AnalyzeContent runs moderation on a meme before it is published.
func (c *Client) AnalyzeContent(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	var out Analysis
	if err := c.Invoke(ctx, FnAnalyzeContent, req, &out); err != nil {
		return nil, err
	}
	if out.Allowed == nil {
		return nil, fmt.Errorf("%s: missing allowed: %w", FnAnalyzeContent, ErrMalformedResponse)
	}
	return &out, nil
}

func metricMiddleware(_ *resty.Client, res *resty.Response) error {
	name := path.Base(res.Request.URL)
	observability.RecordFunctionCall(name, res.StatusCode(), res.Duration().Seconds())
	return nil
}
