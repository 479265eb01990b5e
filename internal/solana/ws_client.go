package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionLost is delivered to waiters when the socket drops. The caller
// falls back to polling getSignatureStatuses.
var ErrConnectionLost = errors.New("solana websocket connection lost")

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription id.
	SubscribeTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		SubscribeTimeout: 30 * time.Second,
	}
}

// WSClientImpl implements WSClient using gorilla/websocket. It does not
// reconnect: signature subscriptions are short-lived and a dropped socket
// fails every waiter with ErrConnectionLost.
type WSClientImpl struct {
	config WSClientConfig
	logger *slog.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps subscription ID to the waiter
	subs   map[int64]chan SignatureNotification
	subsMu sync.Mutex

	// pendingSubs maps request ID to the waiter until the subscription ID arrives
	pendingSubs   map[uint64]*pendingSub
	pendingSubsMu sync.Mutex

	done chan struct{}
	lost chan struct{}
	wg   sync.WaitGroup
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig, logger *slog.Logger) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &WSClientImpl{
		config:      cfg,
		logger:      logger.With("component", "solana_ws"),
		conn:        conn,
		subs:        make(map[int64]chan SignatureNotification),
		pendingSubs: make(map[uint64]*pendingSub),
		done:        make(chan struct{}),
		lost:        make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// WaitSignature implements WSClient.
func (c *WSClientImpl) WaitSignature(ctx context.Context, signature, commitment string) (*SignatureNotification, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "signatureSubscribe",
		Params: []interface{}{
			signature,
			map[string]string{"commitment": commitment},
		},
	}

	p := &pendingSub{
		subID:  make(chan int64, 1),
		notify: make(chan SignatureNotification, 1),
	}
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = p
	c.pendingSubsMu.Unlock()
	dropPending := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	c.connMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()
	if err != nil {
		dropPending()
		return nil, fmt.Errorf("write subscribe: %w", err)
	}

	var subID int64
	select {
	case subID = <-p.subID:
	case <-time.After(c.config.SubscribeTimeout):
		dropPending()
		return nil, fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.lost:
		return nil, ErrConnectionLost
	case <-c.done:
		return nil, fmt.Errorf("client closed")
	case <-ctx.Done():
		dropPending()
		return nil, ctx.Err()
	}

	defer func() {
		c.subsMu.Lock()
		delete(c.subs, subID)
		c.subsMu.Unlock()
	}()

	select {
	case n := <-p.notify:
		n.Signature = signature
		return &n, nil
	case <-c.lost:
		return nil, ErrConnectionLost
	case <-c.done:
		return nil, fmt.Errorf("client closed")
	case <-ctx.Done():
		c.unsubscribe(subID)
		return nil, ctx.Err()
	}
}

func (c *WSClientImpl) unsubscribe(subID int64) {
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "signatureUnsubscribe",
		Params:  []interface{}{subID},
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		c.logger.Debug("signature unsubscribe failed", "subscription", subID, "error", err)
	}
}

// Close closes the WebSocket connection.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}

// readLoop reads messages until the socket fails, then releases every waiter.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()
	defer close(c.lost)

	for {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn("solana websocket read failed", "error", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

// handleMessage processes incoming WebSocket message.
func (c *WSClientImpl) handleMessage(message []byte) {
	// Try to parse as subscription response first
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.ID != 0 && resp.Result != nil {
		c.handleSubscribeResponse(&resp)
		return
	}

	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "signatureNotification" {
		c.handleSignatureNotification(&notif)
		return
	}

	var errResp struct {
		ID    uint64    `json:"id"`
		Error *RPCError `json:"error"`
	}
	if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
		// The waiter times out on its own.
		c.logger.Warn("solana websocket error response", "id", errResp.ID, "error", errResp.Error)
	}
}

// handleSubscribeResponse handles subscription confirmation.
func (c *WSClientImpl) handleSubscribeResponse(resp *wsSubscribeResponse) {
	var subID int64
	if err := json.Unmarshal(resp.Result, &subID); err != nil {
		// signatureUnsubscribe acks carry a boolean
		return
	}

	c.pendingSubsMu.Lock()
	p, ok := c.pendingSubs[resp.ID]
	if ok {
		delete(c.pendingSubs, resp.ID)
	}
	c.pendingSubsMu.Unlock()

	if !ok {
		return
	}

	// Register before the next message is read so an immediate
	// notification finds its waiter.
	c.subsMu.Lock()
	c.subs[subID] = p.notify
	c.subsMu.Unlock()

	select {
	case p.subID <- subID:
	default:
	}
}

// handleSignatureNotification delivers the result to its waiter.
func (c *WSClientImpl) handleSignatureNotification(notif *wsNotification) {
	if notif.Params == nil {
		return
	}

	n := SignatureNotification{Err: notif.Params.Result.Value.Err}
	if notif.Params.Result.Context != nil {
		n.Slot = notif.Params.Result.Context.Slot
	}

	c.subsMu.Lock()
	ch, ok := c.subs[notif.Params.Subscription]
	c.subsMu.Unlock()

	if ok {
		select {
		case ch <- n:
		default:
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.lost:
			return
		case <-ticker.C:
			c.connMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.connMu.Unlock()
			if err != nil {
				c.logger.Debug("solana websocket ping failed", "error", err)
			}
		}
	}
}

type pendingSub struct {
	subID  chan int64
	notify chan SignatureNotification
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext       `json:"context"`
	Value   wsSignatureValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsSignatureValue struct {
	Err interface{} `json:"err"`
}
