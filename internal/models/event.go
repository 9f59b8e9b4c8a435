package models

import "github.com/google/uuid"

// Event types carried on the realtime feed. Only inserts are published;
// message updates and deletes are not part of the feed contract.
const (
	EventMessageInsert = "message.insert"
)

// Event is a single change notification pushed to connected clients.
type Event struct {
	Type           string    `json:"type"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Message        *Message  `json:"message,omitempty"`
}
