package models

import "time"

// OutgoingState tracks the lifecycle of an optimistic send.
type OutgoingState int

const (
	// OutgoingPending means the send call is in flight.
	OutgoingPending OutgoingState = iota
	// OutgoingConfirmed means the server echoed a real message record.
	OutgoingConfirmed
	// OutgoingFailed means the send call failed; the record is kept so the
	// user can retry. Failed sends are never retried automatically.
	OutgoingFailed
)

func (s OutgoingState) String() string {
	switch s {
	case OutgoingPending:
		return "pending"
	case OutgoingConfirmed:
		return "confirmed"
	case OutgoingFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outgoing is an optimistic, not-yet-acknowledged send. It is matched to
// the server record by request correlation (TempID), never by content.
// Only confirmed server records ever reach the conversation cache.
type Outgoing struct {
	TempID         string
	ConversationID string
	Content        string
	ReplyTo        *string
	CreatedAt      time.Time
	State          OutgoingState
	// ServerID is set once the send is confirmed.
	ServerID string
	// Err holds the failure reason for OutgoingFailed.
	Err error
}
