// Package session orchestrates one active conversation: it seeds the
// conversation cache from a history fetch, keeps it consistent with the
// push event stream, and issues outgoing send/edit/delete/mark-read calls.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SachiPatankar/buildasquad-sub000/internal/cache"
	"github.com/SachiPatankar/buildasquad-sub000/internal/models"
	"github.com/SachiPatankar/buildasquad-sub000/internal/notify"
	"github.com/SachiPatankar/buildasquad-sub000/internal/push"
)

// State is the controller's lifecycle state.
type State int

const (
	// Idle: no conversation selected.
	Idle State = iota
	// Loading: history fetch in flight for the selected conversation.
	Loading
	// Active: cache seeded, topic joined, handlers registered.
	Active
	// Closing: tearing down topic membership and handlers.
	Closing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Active:
		return "active"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Push event names for the per-conversation topic.
const (
	eventMessageCreated = "message-created"
	eventMessageUpdated = "message-updated"
	eventMessageDeleted = "message-deleted"
)

// API is the collaborator surface the controller consumes.
type API interface {
	FetchMessages(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID, content string, replyTo *string) (*models.Message, error)
	EditMessage(ctx context.Context, messageID, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	MarkRead(ctx context.Context, conversationID string) error
}

// Topic is the push-channel surface the controller consumes.
type Topic interface {
	JoinTopic(conversationID string)
	LeaveTopic(conversationID string)
	RejoinTopic(conversationID string)
	On(event string, h push.Handler)
	Off(event string)
}

// Controller drives the Idle -> Loading -> Active -> Closing lifecycle for
// the one conversation the viewer currently has open. It exclusively owns
// that conversation's cache page while Active.
type Controller struct {
	api      API
	channel  Topic
	cache    *cache.Cache
	store    *notify.Store
	logger   *slog.Logger
	pageSize int

	mu             sync.Mutex
	state          State
	conversationID string
	// gen invalidates in-flight fetches: a result whose generation no
	// longer matches belongs to a conversation the user has switched away
	// from and is dropped silently.
	gen     int
	pending []*models.Outgoing

	// OnUpdate, when set, is invoked after every cache or pending-list
	// change so a view can re-render. Optional.
	OnUpdate func()
}

// New creates a controller. RegisterReconnect must be called (once) by the
// owner that also owns the push channel if reconnect reconciliation is
// wanted.
func New(api API, channel Topic, msgCache *cache.Cache, store *notify.Store, pageSize int, logger *slog.Logger) *Controller {
	return &Controller{
		api:      api,
		channel:  channel,
		cache:    msgCache,
		store:    store,
		logger:   logger.With("component", "session"),
		pageSize: pageSize,
		state:    Idle,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveConversation returns the id of the open conversation, or "" when
// none is active.
func (c *Controller) ActiveConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return ""
	}
	return c.conversationID
}

// Open selects a conversation: fetches its first history page, seeds the
// cache, joins the push topic and marks the conversation read. If another
// conversation is active it is closed first. If the user opens a different
// conversation while this fetch is in flight, the stale result is dropped
// silently and Open returns nil.
func (c *Controller) Open(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	if c.state == Active && c.conversationID == conversationID {
		c.mu.Unlock()
		return nil
	}
	if c.state == Active {
		c.closeLocked()
	}
	c.state = Loading
	c.conversationID = conversationID
	c.gen++
	g := c.gen
	c.mu.Unlock()

	msgs, err := c.api.FetchMessages(ctx, conversationID, 1, c.pageSize)

	c.mu.Lock()
	if c.gen != g {
		// The user switched conversations while the fetch was in flight.
		c.mu.Unlock()
		c.logger.Debug("stale history fetch dropped", "conversation", conversationID)
		return nil
	}
	if err != nil {
		c.state = Idle
		c.conversationID = ""
		c.mu.Unlock()
		return fmt.Errorf("fetch history: %w", err)
	}

	c.cache.Replace(conversationID, msgs)
	c.registerHandlersLocked()
	c.state = Active
	c.mu.Unlock()

	c.channel.JoinTopic(conversationID)
	c.markRead(ctx, conversationID)
	c.emitUpdate()
	return nil
}

// Close leaves the conversation: deregisters handlers, leaves the topic
// and drops the cache page. Safe to call in any state.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return
	}
	c.closeLocked()
	c.mu.Unlock()
}

// closeLocked tears down the current conversation. Caller holds c.mu.
// Deregistration is synchronous with the state transition so no handler
// can fire against a conversation that is no longer active.
func (c *Controller) closeLocked() {
	c.state = Closing
	conv := c.conversationID
	c.gen++ // invalidate any in-flight fetch

	c.channel.Off(eventMessageCreated)
	c.channel.Off(eventMessageUpdated)
	c.channel.Off(eventMessageDeleted)
	if conv != "" {
		c.channel.LeaveTopic(conv)
		c.cache.Drop(conv)
	}

	c.pending = nil
	c.conversationID = ""
	c.state = Idle
}

// Send dispatches a message optimistically: an Outgoing record is exposed
// immediately, then resolved against the server echo. On failure the
// record is marked failed and kept for a user-initiated Retry; it is never
// retried automatically.
func (c *Controller) Send(ctx context.Context, content string) error {
	return c.send(ctx, content, nil)
}

// Reply sends a message referencing another message.
func (c *Controller) Reply(ctx context.Context, replyTo, content string) error {
	return c.send(ctx, content, &replyTo)
}

func (c *Controller) send(ctx context.Context, content string, replyTo *string) error {
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return fmt.Errorf("no active conversation")
	}
	out := &models.Outgoing{
		TempID:         uuid.New().String(),
		ConversationID: c.conversationID,
		Content:        content,
		ReplyTo:        replyTo,
		CreatedAt:      time.Now(),
		State:          models.OutgoingPending,
	}
	c.pending = append(c.pending, out)
	conv := c.conversationID
	c.mu.Unlock()
	c.emitUpdate()

	msg, err := c.api.SendMessage(ctx, conv, content, replyTo)

	c.mu.Lock()
	if err != nil {
		out.State = models.OutgoingFailed
		out.Err = err
		c.mu.Unlock()
		c.emitUpdate()
		return fmt.Errorf("send message: %w", err)
	}

	out.State = models.OutgoingConfirmed
	out.ServerID = msg.ID
	c.removePendingLocked(out.TempID)
	// Merge only while the conversation is still the active one; its page
	// is gone otherwise. The insert dedups against the push echo, which
	// may have arrived first.
	merge := c.state == Active && c.conversationID == out.ConversationID
	c.mu.Unlock()

	if merge {
		c.cache.Merge(out.ConversationID, cache.InsertEvent(*msg))
	}
	c.emitUpdate()
	return nil
}

// Retry re-issues a failed send as a new pending record. The failed record
// is discarded.
func (c *Controller) Retry(ctx context.Context, tempID string) error {
	c.mu.Lock()
	var failed *models.Outgoing
	for _, p := range c.pending {
		if p.TempID == tempID && p.State == models.OutgoingFailed {
			failed = p
			break
		}
	}
	if failed == nil {
		c.mu.Unlock()
		return fmt.Errorf("no failed send with id %s", tempID)
	}
	c.removePendingLocked(tempID)
	c.mu.Unlock()

	return c.send(ctx, failed.Content, failed.ReplyTo)
}

// Edit replaces a message's content via the collaborator and patches the
// cached entry with the confirmed record.
func (c *Controller) Edit(ctx context.Context, messageID, content string) error {
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return fmt.Errorf("no active conversation")
	}
	conv := c.conversationID
	c.mu.Unlock()

	msg, err := c.api.EditMessage(ctx, messageID, content)
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}

	c.cache.Merge(conv, cache.PatchEvent(messageID, models.MessagePatch{
		Content:  &msg.Content,
		EditedAt: msg.EditedAt,
	}))
	c.emitUpdate()
	return nil
}

// Delete soft-deletes a message via the collaborator and removes the
// cached entry. The push echo of the delete then no-ops.
func (c *Controller) Delete(ctx context.Context, messageID string) error {
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return fmt.Errorf("no active conversation")
	}
	conv := c.conversationID
	c.mu.Unlock()

	if err := c.api.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	c.cache.Merge(conv, cache.RemoveEvent(messageID))
	c.emitUpdate()
	return nil
}

// Pending returns a copy of the outstanding optimistic sends (pending and
// failed) for presentation.
func (c *Controller) Pending() []models.Outgoing {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Outgoing, len(c.pending))
	for i, p := range c.pending {
		out[i] = *p
	}
	return out
}

func (c *Controller) removePendingLocked(tempID string) {
	for i, p := range c.pending {
		if p.TempID == tempID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// RegisterReconnect hooks reconnect reconciliation into the push channel's
// reconnected signal. Call once after constructing the controller.
func (c *Controller) RegisterReconnect(ctx context.Context, ch *push.Channel) {
	ch.OnReconnect(func() {
		c.Reconcile(ctx)
	})
}

// Reconcile handles a reconnect while Active: re-join the topic, re-fetch
// the latest history page and re-merge it. A full reconciliation is used
// instead of event replay - the window is one page, so fetching it again
// is simpler than gap detection.
func (c *Controller) Reconcile(ctx context.Context) {
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return
	}
	conv := c.conversationID
	g := c.gen
	c.mu.Unlock()

	c.channel.RejoinTopic(conv)

	msgs, err := c.api.FetchMessages(ctx, conv, 1, c.pageSize)
	if err != nil {
		// Stay Active on the cached page; the next reconnect retries.
		c.logger.Warn("reconcile fetch failed", "conversation", conv, "error", err)
		return
	}

	c.mu.Lock()
	if c.gen != g || c.state != Active {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// Insert-merge rather than replace: dedup keeps anything that arrived
	// via push replay during the fetch, and picks up whatever was missed
	// while disconnected.
	for _, m := range msgs {
		c.cache.Merge(conv, cache.InsertEvent(m))
	}
	c.markRead(ctx, conv)
	c.emitUpdate()
}

// markRead resets the conversation's unread counter locally and notifies
// the server. A failed call only logs: the counter re-reconciles on the
// next unread push or reconnect.
func (c *Controller) markRead(ctx context.Context, conversationID string) {
	c.store.ClearCounter(conversationID)
	if err := c.api.MarkRead(ctx, conversationID); err != nil {
		c.logger.Warn("mark read failed", "conversation", conversationID, "error", err)
	}
}

// registerHandlersLocked wires the three per-conversation push events into
// cache merges. Caller holds c.mu. Each handler re-checks the active
// conversation under the lock, so events never touch a page the
// controller no longer owns.
func (c *Controller) registerHandlersLocked() {
	c.channel.On(eventMessageCreated, func(payload json.RawMessage) {
		var p struct {
			ConversationID string         `json:"conversationId"`
			Message        models.Message `json:"message"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logger.Warn("bad message-created payload", "error", err)
			return
		}
		if !c.owns(p.ConversationID) {
			return
		}
		c.cache.Merge(p.ConversationID, cache.InsertEvent(p.Message))
		c.emitUpdate()
	})

	c.channel.On(eventMessageUpdated, func(payload json.RawMessage) {
		var p struct {
			ConversationID string `json:"conversationId"`
			Message        struct {
				ID string `json:"id"`
				models.MessagePatch
			} `json:"message"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logger.Warn("bad message-updated payload", "error", err)
			return
		}
		if !c.owns(p.ConversationID) {
			return
		}
		c.cache.Merge(p.ConversationID, cache.PatchEvent(p.Message.ID, p.Message.MessagePatch))
		c.emitUpdate()
	})

	c.channel.On(eventMessageDeleted, func(payload json.RawMessage) {
		var p struct {
			ConversationID string `json:"conversationId"`
			MessageID      string `json:"messageId"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logger.Warn("bad message-deleted payload", "error", err)
			return
		}
		if !c.owns(p.ConversationID) {
			return
		}
		c.cache.Merge(p.ConversationID, cache.RemoveEvent(p.MessageID))
		c.emitUpdate()
	})
}

// owns reports whether conversationID is the one this controller is
// actively synchronizing.
func (c *Controller) owns(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Active && c.conversationID == conversationID
}

func (c *Controller) emitUpdate() {
	if c.OnUpdate != nil {
		c.OnUpdate()
	}
}
