package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation represents a two-party chat thread.
type Conversation struct {
	ID           uuid.UUID `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastMessage  string    `json:"last_message,omitempty"`
	LastActivity time.Time `json:"last_active_at"`
}

// ConversationView is a conversation decorated for one participant:
// the counterpart's profile plus the caller's unread count.
type ConversationView struct {
	ID           uuid.UUID `json:"id"`
	Counterpart  Profile   `json:"counterpart"`
	LastMessage  string    `json:"last_message,omitempty"`
	LastActivity time.Time `json:"last_active_at"`
	Unread       int64     `json:"unread"`
}
