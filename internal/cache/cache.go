// Package cache keeps a bounded, windowed local copy of each conversation's
// most recent message page. The page is a read-through view, not
// authoritative storage: patches and removes for messages outside the
// window are silent no-ops.
package cache

import (
	"sort"
	"sync"

	"github.com/SachiPatankar/buildasquad-sub000/internal/models"
)

// EventKind discriminates merge events.
type EventKind int

const (
	// Insert adds a message; duplicates by server id are discarded.
	Insert EventKind = iota
	// Patch applies field-level updates to a cached message by id.
	Patch
	// Remove deletes a cached message by id.
	Remove
)

// Event is one merge operation against a conversation's cached page.
type Event struct {
	Kind EventKind
	// Message is required for Insert.
	Message *models.Message
	// MessageID identifies the target for Patch and Remove.
	MessageID string
	// Fields carries the partial update for Patch.
	Fields *models.MessagePatch
}

// InsertEvent builds an insert merge event.
func InsertEvent(msg models.Message) Event {
	return Event{Kind: Insert, Message: &msg, MessageID: msg.ID}
}

// PatchEvent builds a patch merge event.
func PatchEvent(messageID string, fields models.MessagePatch) Event {
	return Event{Kind: Patch, MessageID: messageID, Fields: &fields}
}

// RemoveEvent builds a remove merge event.
func RemoveEvent(messageID string) Event {
	return Event{Kind: Remove, MessageID: messageID}
}

// Cache holds one cached page per conversation id. All methods are
// thread-safe.
type Cache struct {
	mu    sync.RWMutex
	pages map[string][]models.Message
}

// New creates an empty conversation cache.
func New() *Cache {
	return &Cache{pages: make(map[string][]models.Message)}
}

// Replace seeds a conversation's page from a history fetch. The page is
// normalized: sorted ascending by creation time (stable, so equal
// timestamps keep fetch order) and de-duplicated by id.
func (c *Cache) Replace(conversationID string, msgs []models.Message) {
	page := make([]models.Message, 0, len(msgs))
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		page = append(page, m)
	}
	sort.SliceStable(page, func(i, j int) bool {
		return page[i].CreatedAt.Before(page[j].CreatedAt)
	})

	c.mu.Lock()
	c.pages[conversationID] = page
	c.mu.Unlock()
}

// Merge applies one event to a conversation's cached page. Every event
// kind is idempotent: applying the same event twice leaves the same state
// as applying it once.
//
// No ordering machinery exists beyond arrival order: a remove arriving
// before its insert drops silently and the message reappears until the
// next reconciliation fetch. Accepted consistency gap for two-party chat.
func (c *Cache) Merge(conversationID string, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	page := c.pages[conversationID]

	switch ev.Kind {
	case Insert:
		if ev.Message == nil {
			return
		}
		for _, m := range page {
			if m.ID == ev.Message.ID {
				// Common race: the push echo of an optimistic send can land
				// before or after the send call resolves. First write wins.
				return
			}
		}
		c.pages[conversationID] = insertOrdered(page, *ev.Message)

	case Patch:
		if ev.Fields == nil {
			return
		}
		for i := range page {
			if page[i].ID == ev.MessageID {
				applyPatch(&page[i], *ev.Fields)
				return
			}
		}
		// Outside the window: no-op.

	case Remove:
		for i := range page {
			if page[i].ID == ev.MessageID {
				c.pages[conversationID] = append(page[:i:i], page[i+1:]...)
				return
			}
		}
	}
}

// insertOrdered places msg preserving ascending CreatedAt order. Ties are
// broken by arrival order: the new message goes after existing equal
// timestamps.
func insertOrdered(page []models.Message, msg models.Message) []models.Message {
	idx := sort.Search(len(page), func(i int) bool {
		return page[i].CreatedAt.After(msg.CreatedAt)
	})
	page = append(page, models.Message{})
	copy(page[idx+1:], page[idx:])
	page[idx] = msg
	return page
}

func applyPatch(m *models.Message, p models.MessagePatch) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.EditedAt != nil {
		m.EditedAt = p.EditedAt
	}
	if p.Deleted != nil {
		m.Deleted = *p.Deleted
	}
	if p.ReadBy != nil {
		m.ReadBy = p.ReadBy
	}
}

// Messages returns a copy of a conversation's cached page, oldest first.
func (c *Cache) Messages(conversationID string) []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	page := c.pages[conversationID]
	out := make([]models.Message, len(page))
	copy(out, page)
	return out
}

// Len returns the number of cached messages for a conversation.
func (c *Cache) Len(conversationID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pages[conversationID])
}

// Drop evicts a conversation's page. Called when its session closes.
func (c *Cache) Drop(conversationID string) {
	c.mu.Lock()
	delete(c.pages, conversationID)
	c.mu.Unlock()
}
