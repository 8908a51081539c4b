// Package models defines the chat records exchanged with the collaborator
// API and the push gateway.
package models

import "time"

// ReadReceipt records that a recipient has read a message.
type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message is a server-assigned chat message within a conversation.
//
// Deleted messages are logical tombstones: the record stays in place with
// the flag set so the presentation layer can decide whether to filter them.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"createdAt"`
	EditedAt       *time.Time    `json:"editedAt,omitempty"`
	Deleted        bool          `json:"deleted"`
	ReplyTo        *string       `json:"replyTo,omitempty"`
	ReadBy         []ReadReceipt `json:"readBy,omitempty"`
}

// MessagePatch carries a partial update for a cached message. Nil fields
// are left untouched by the merge.
type MessagePatch struct {
	Content  *string       `json:"content,omitempty"`
	EditedAt *time.Time    `json:"editedAt,omitempty"`
	Deleted  *bool         `json:"deleted,omitempty"`
	ReadBy   []ReadReceipt `json:"readBy,omitempty"`
}

// ConversationSummary is the list-view projection of a conversation:
// participants, denormalized last-message preview and the server-side
// unread count at fetch time.
type ConversationSummary struct {
	ConversationID string    `json:"conversationId"`
	ParticipantIDs []string  `json:"participantIds"`
	LastMessage    string    `json:"lastMessage"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
	UnreadCount    int       `json:"unreadCount"`
}
