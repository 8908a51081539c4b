package notify

import (
	"encoding/json"
	"log/slog"

	"github.com/SachiPatankar/buildasquad-sub000/internal/push"
)

// Push event names for the process-wide notification topic. The topic is
// joined implicitly by the authenticated connection and never left until
// logout, so these handlers live for the whole session.
const (
	eventChatUnread    = "chat-unread-delta"
	eventTotalUnread   = "total-unread-delta"
	eventFriendRequest = "friend-request-delta"
)

// Registrar is the handler-registration surface of the push channel.
type Registrar interface {
	On(event string, h push.Handler)
	Off(event string)
}

// Listen binds the global notification events to store operations. Returns
// a function that deregisters the handlers (used on logout).
func Listen(ch Registrar, store *Store, logger *slog.Logger) func() {
	log := logger.With("component", "notify")

	ch.On(eventChatUnread, func(payload json.RawMessage) {
		var p struct {
			ConversationID string `json:"conversationId"`
			NewCount       int    `json:"newCount"`
		}
		if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" {
			log.Warn("bad chat-unread-delta payload", "error", err)
			return
		}
		store.SetCounter(p.ConversationID, p.NewCount)
	})

	ch.On(eventTotalUnread, func(payload json.RawMessage) {
		var p struct {
			NewCount int `json:"newCount"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			log.Warn("bad total-unread-delta payload", "error", err)
			return
		}
		store.SetAggregateTotal(p.NewCount)
	})

	// The friend-request event carries either an absolute count or an
	// increment/decrement signal; an absolute count wins when present.
	ch.On(eventFriendRequest, func(payload json.RawMessage) {
		var p struct {
			NewCount *int `json:"newCount"`
			Delta    int  `json:"delta"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			log.Warn("bad friend-request-delta payload", "error", err)
			return
		}
		switch {
		case p.NewCount != nil:
			store.SetPending(*p.NewCount)
		case p.Delta > 0:
			store.IncrementPending()
		case p.Delta < 0:
			store.DecrementPending()
		}
	})

	return func() {
		ch.Off(eventChatUnread)
		ch.Off(eventTotalUnread)
		ch.Off(eventFriendRequest)
	}
}
