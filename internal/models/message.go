package models

import "github.com/google/uuid"

// Message represents a chat message.
type Message struct {
	ID             string         `json:"id"` // ULID
	ClientID       string         `json:"client_id,omitempty"`
	ConversationID uuid.UUID      `json:"conversation_id"`
	FromID         uuid.UUID      `json:"from"`
	Body           string         `json:"body"`
	ReplyToID      string         `json:"reply_to,omitempty"`
	Reply          *ReplySnapshot `json:"reply,omitempty"`
	HasAttachment  bool           `json:"attachment,omitempty"`
	Timestamp      int64          `json:"ts"` // Unix ms
}

// ReplySnapshot is a denormalized copy of the parent message carried on
// replies so the feed can render the quote without a second lookup.
type ReplySnapshot struct {
	MessageID      string    `json:"id"`
	SenderID       uuid.UUID `json:"from"`
	SenderNickname string    `json:"nickname"`
	Body           string    `json:"body"`
}
