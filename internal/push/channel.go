// Package push maintains the single long-lived websocket connection to the
// push gateway. It exposes topic membership, outbound emits and per-event
// inbound handlers, and owns the reconnect lifecycle: connection loss is
// absorbed here and surfaced to owners only as a "reconnected" signal.
package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Event names sent to the gateway for topic membership.
const (
	eventJoinConversation  = "join-conversation"
	eventLeaveConversation = "leave-conversation"
)

// Handler processes one inbound event payload. At most one handler is
// active per event name; registering again replaces the previous one.
type Handler func(payload json.RawMessage)

// frame is the wire representation of a push event in either direction.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Channel is the process-wide push connection. All methods are safe for
// concurrent use. The zero value is not usable; call New.
type Channel struct {
	url    string
	token  string
	logger *slog.Logger
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc
	joined    map[string]bool

	handlersMu  sync.RWMutex
	handlers    map[string]Handler
	onReconnect []func()
}

// New creates a push channel for the given gateway endpoint. The session
// token is attached to the connection handshake; the gateway refuses
// connections without it.
func New(url, token string, logger *slog.Logger) *Channel {
	return &Channel{
		url:    url,
		token:  token,
		logger: logger.With("component", "push"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		joined:   make(map[string]bool),
		handlers: make(map[string]Handler),
	}
}

// Connect establishes the physical connection and starts the read loop.
// Calling Connect while already connected is a no-op. The context bounds
// the connection's lifetime: when it is cancelled the channel stops
// reading and redialing.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	conn, err := c.dial(c.ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	return conn, err
}

// Close tears the connection down permanently. A closed channel does not
// redial.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.connected = false
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// On registers the handler for an event name, replacing any previous
// registration for that name.
func (c *Channel) On(event string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = h
}

// Off removes the handler for an event name, if any.
func (c *Channel) Off(event string) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	delete(c.handlers, event)
}

// OnReconnect registers a callback invoked after every successful redial.
// The channel does not restore topic memberships itself; owners reconcile
// from these callbacks.
func (c *Channel) OnReconnect(fn func()) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onReconnect = append(c.onReconnect, fn)
}

// Emit sends a fire-and-forget outbound event. Emits while disconnected
// are dropped; the next reconciliation covers the gap.
func (c *Channel) Emit(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("emit: marshal payload", "event", event, "error", err)
		return
	}
	c.writeFrame(frame{Event: event, Payload: raw})
}

func (c *Channel) writeFrame(f frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		c.logger.Debug("emit dropped, not connected", "event", f.Event)
		return
	}
	if err := c.conn.WriteJSON(f); err != nil {
		c.logger.Warn("emit failed", "event", f.Event, "error", err)
	}
}

// JoinTopic registers interest in a conversation's events. Joining an
// already-joined topic is a no-op.
func (c *Channel) JoinTopic(conversationID string) {
	c.mu.Lock()
	if c.joined[conversationID] {
		c.mu.Unlock()
		return
	}
	c.joined[conversationID] = true
	c.mu.Unlock()

	c.Emit(eventJoinConversation, map[string]string{"conversationId": conversationID})
}

// LeaveTopic deregisters interest in a conversation's events.
func (c *Channel) LeaveTopic(conversationID string) {
	c.mu.Lock()
	if !c.joined[conversationID] {
		c.mu.Unlock()
		return
	}
	delete(c.joined, conversationID)
	c.mu.Unlock()

	c.Emit(eventLeaveConversation, map[string]string{"conversationId": conversationID})
}

// RejoinTopic re-emits the join event for a topic the caller already owns.
// Used after a reconnect, where the gateway has forgotten memberships but
// the local joined-set still holds the conversation.
func (c *Channel) RejoinTopic(conversationID string) {
	c.mu.Lock()
	c.joined[conversationID] = true
	c.mu.Unlock()

	c.Emit(eventJoinConversation, map[string]string{"conversationId": conversationID})
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			stopping := c.closed || c.ctx.Err() != nil
			c.connected = false
			c.mu.Unlock()
			if stopping {
				return
			}
			c.logger.Info("push connection lost, reconnecting", "error", err)
			c.reconnect()
			return
		}
		c.dispatch(f)
	}
}

func (c *Channel) dispatch(f frame) {
	c.handlersMu.RLock()
	h := c.handlers[f.Event]
	c.handlersMu.RUnlock()
	if h == nil {
		c.logger.Debug("no handler for event", "event", f.Event)
		return
	}
	h(f.Payload)
}

// reconnect redials until it succeeds or the channel is closed, then
// restarts the read loop and fires the reconnect callbacks.
func (c *Channel) reconnect() {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry until closed

	var conn *websocket.Conn
	operation := func() error {
		var err error
		conn, err = c.dial(c.ctx)
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(bo, c.ctx)); err != nil {
		// Only context cancellation ends the retry loop.
		c.logger.Info("push reconnect abandoned", "error", err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)

	c.handlersMu.RLock()
	callbacks := make([]func(), len(c.onReconnect))
	copy(callbacks, c.onReconnect)
	c.handlersMu.RUnlock()

	c.logger.Info("push connection restored")
	for _, fn := range callbacks {
		fn()
	}
}
