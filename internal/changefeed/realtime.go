package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tuzemoon/internal/observability"
)

// RealtimeConfig configures the realtime WebSocket client.
type RealtimeConfig struct {
	// URL is the realtime endpoint, e.g. wss://<project>.supabase.co/realtime/v1/websocket.
	URL string
	// APIKey is sent as the apikey query parameter and join access token.
	APIKey string
	// Schema is the database schema of watched tables.
	Schema string
	// HeartbeatInterval is the interval between phoenix heartbeats.
	HeartbeatInterval time.Duration
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// JoinTimeout bounds the wait for a phx_join reply.
	JoinTimeout time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultRealtimeConfig returns default realtime configuration.
func DefaultRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		Schema:            "public",
		HeartbeatInterval: 25 * time.Second,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		JoinTimeout:       10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

const (
	topicPrefix    = "realtime:"
	phoenixTopic   = "phoenix"
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"
)

// RealtimeClient implements Feed over the Phoenix-channel realtime protocol.
// Each distinct Subscription maps to one channel topic; connection loss is
// handled by reconnecting and rejoining every active topic.
type RealtimeClient struct {
	config RealtimeConfig
	logger *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool
	ref    atomic.Uint64

	// pending maps message ref to the channel waiting for its reply
	pending   map[string]chan phxReply
	pendingMu sync.Mutex

	d *dispatcher

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewRealtimeClient creates a client and connects to the endpoint.
func NewRealtimeClient(ctx context.Context, config RealtimeConfig, logger *slog.Logger) (*RealtimeClient, error) {
	def := DefaultRealtimeConfig()
	if config.Schema == "" {
		config.Schema = def.Schema
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = def.HeartbeatInterval
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = def.ReconnectDelay
	}
	if config.MaxReconnectDelay <= 0 {
		config.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = def.JoinTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}

	logger = logger.With(slog.String("component", "changefeed.realtime"))
	c := &RealtimeClient{
		config:  config,
		logger:  logger,
		pending: make(map[string]chan phxReply),
		d:       newDispatcher(logger),
		done:    make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.heartbeatLoop()

	return c, nil
}

// endpoint returns the websocket URL with apikey and protocol version.
func (c *RealtimeClient) endpoint() (string, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	if c.config.APIKey != "" {
		q.Set("apikey", c.config.APIKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connect establishes WebSocket connection.
func (c *RealtimeClient) connect(ctx context.Context) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

// Subscribe registers handler for changes on sub, joining a channel for the
// first local subscriber of sub.
func (c *RealtimeClient) Subscribe(ctx context.Context, sub Subscription, handler Handler) (Unsubscribe, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if sub.Collection == "" {
		return nil, errors.New("changefeed: empty collection")
	}
	return c.d.subscribe(ctx, sub, handler, c.join, c.leave)
}

// Close closes the connection and drops all subscribers.
func (c *RealtimeClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)
	c.d.close()

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.pendingMu.Lock()
	for ref, ch := range c.pending {
		close(ch)
		delete(c.pending, ref)
	}
	c.pendingMu.Unlock()

	c.wg.Wait()
	return nil
}

// join sends phx_join for sub and waits for the reply.
func (c *RealtimeClient) join(ctx context.Context, sub Subscription) error {
	change := map[string]any{
		"event":  "*",
		"schema": c.config.Schema,
		"table":  sub.Collection,
	}
	if sub.Filter != nil {
		change["filter"] = sub.Filter.String()
	}
	payload := map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]any{"self": false},
			"presence":         map[string]any{"key": ""},
			"postgres_changes": []any{change},
		},
	}
	if c.config.APIKey != "" {
		payload["access_token"] = c.config.APIKey
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.JoinTimeout)
	defer cancel()

	reply, err := c.request(ctx, topicPrefix+sub.Key(), eventJoin, payload)
	if err != nil {
		return fmt.Errorf("join %s: %w", sub.Key(), err)
	}
	if reply.Status != "ok" {
		return fmt.Errorf("join %s: status %q: %s", sub.Key(), reply.Status, string(reply.Response))
	}
	c.logger.Debug("channel joined", slog.String("topic", sub.Key()))
	return nil
}

// leave sends phx_leave without waiting for the reply.
func (c *RealtimeClient) leave(sub Subscription) {
	if c.closed.Load() {
		return
	}
	msg := phxMessage{
		Topic:   topicPrefix + sub.Key(),
		Event:   eventLeave,
		Payload: json.RawMessage(`{}`),
		Ref:     c.nextRef(),
	}
	if err := c.write(msg); err != nil {
		c.logger.Warn("leave failed", slog.String("topic", sub.Key()), slog.Any("error", err))
	}
}

// request writes a message and waits for the phx_reply with the same ref.
func (c *RealtimeClient) request(ctx context.Context, topic, event string, payload any) (phxReply, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return phxReply{}, fmt.Errorf("marshal payload: %w", err)
	}

	ref := c.nextRef()
	replyCh := make(chan phxReply, 1)
	c.pendingMu.Lock()
	c.pending[ref] = replyCh
	c.pendingMu.Unlock()

	msg := phxMessage{Topic: topic, Event: event, Payload: raw, Ref: ref, JoinRef: ref}
	if err := c.write(msg); err != nil {
		c.dropPending(ref)
		return phxReply{}, err
	}

	select {
	case reply, ok := <-replyCh:
		if !ok {
			return phxReply{}, ErrClosed
		}
		return reply, nil
	case <-c.done:
		return phxReply{}, ErrClosed
	case <-ctx.Done():
		c.dropPending(ref)
		return phxReply{}, ctx.Err()
	}
}

func (c *RealtimeClient) dropPending(ref string) {
	c.pendingMu.Lock()
	delete(c.pending, ref)
	c.pendingMu.Unlock()
}

func (c *RealtimeClient) write(msg phxMessage) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return errors.New("not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Event, err)
	}
	return nil
}

func (c *RealtimeClient) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}

// readLoop reads messages and dispatches them; read errors trigger reconnect.
func (c *RealtimeClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				c.logger.Warn("connection lost, reconnecting",
					slog.Any("error", err),
					slog.Duration("delay", reconnectDelay),
				)
				go c.reconnect(conn, reconnectDelay)
			}

			reconnectDelay = min(reconnectDelay*2, c.config.MaxReconnectDelay)

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay
		c.handleMessage(message)
	}
}

// reconnect replaces a failed connection and rejoins all active channels.
func (c *RealtimeClient) reconnect(failed *websocket.Conn, delay time.Duration) {
	defer c.reconnecting.Store(false)

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn == failed {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// retried on the next read error
		c.logger.Warn("reconnect failed", slog.Any("error", err))
		return
	}
	observability.RecordReconnect()

	c.rejoinAll(ctx)
}

// rejoinAll joins every active channel on the new connection, then signals
// each one so subscribers re-read what changed while disconnected.
func (c *RealtimeClient) rejoinAll(ctx context.Context) {
	for _, sub := range c.d.active() {
		if err := c.join(ctx, sub); err != nil {
			c.logger.Warn("rejoin failed", slog.String("topic", sub.Key()), slog.Any("error", err))
		}
	}
	c.d.resync()
}

// handleMessage routes one inbound frame.
func (c *RealtimeClient) handleMessage(message []byte) {
	var msg phxMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Debug("malformed frame dropped", slog.Any("error", err))
		return
	}

	switch msg.Event {
	case eventReply:
		var reply phxReply
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[msg.Ref]
		if ok {
			delete(c.pending, msg.Ref)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- reply
		}

	case eventChanges:
		key, ok := strings.CutPrefix(msg.Topic, topicPrefix)
		if !ok {
			return
		}
		e, ok := parseChange(msg.Payload)
		if !ok {
			c.logger.Debug("unparseable change dropped", slog.String("topic", key))
			return
		}
		c.d.dispatchKey(key, e)

	case eventError, eventClose:
		key, ok := strings.CutPrefix(msg.Topic, topicPrefix)
		if !ok || c.closed.Load() {
			return
		}
		for _, sub := range c.d.active() {
			if sub.Key() != key {
				continue
			}
			c.logger.Warn("channel closed by server, rejoining", slog.String("topic", key), slog.String("event", msg.Event))
			go func(sub Subscription) {
				ctx, cancel := context.WithTimeout(context.Background(), c.config.JoinTimeout)
				defer cancel()
				if err := c.join(ctx, sub); err != nil {
					c.logger.Warn("rejoin failed", slog.String("topic", key), slog.Any("error", err))
				}
			}(sub)
		}
	}
}

// heartbeatLoop keeps the socket alive with phoenix heartbeats.
func (c *RealtimeClient) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			msg := phxMessage{
				Topic:   phoenixTopic,
				Event:   eventHeartbeat,
				Payload: json.RawMessage(`{}`),
				Ref:     c.nextRef(),
			}
			// a dead connection surfaces as a read error
			_ = c.write(msg)
		}
	}
}

// Phoenix wire types

type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type phxReply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

var _ Feed = (*RealtimeClient)(nil)
