package chatsync

import "time"

// Profile represents a marketplace user.
type Profile struct {
	ID         string    `json:"id"`
	Nickname   string    `json:"nickname"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	IsProducer bool      `json:"is_producer,omitempty"`
	IsVerified bool      `json:"is_verified,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Conversation represents a two-party chat thread.
type Conversation struct {
	ID           string    `json:"id"`
	LastMessage  string    `json:"last_message,omitempty"`
	LastActivity time.Time `json:"last_active_at"`
}

// ConversationView is a conversation decorated for the caller: the
// counterpart's profile plus the unread count.
type ConversationView struct {
	ID           string    `json:"id"`
	Counterpart  Profile   `json:"counterpart"`
	LastMessage  string    `json:"last_message,omitempty"`
	LastActivity time.Time `json:"last_active_at"`
	Unread       int64     `json:"unread"`
}

// ReplySnapshot is the denormalized parent carried on reply messages.
type ReplySnapshot struct {
	MessageID      string `json:"id"`
	SenderID       string `json:"from"`
	SenderNickname string `json:"nickname"`
	Body           string `json:"body"`
}

// Message represents a chat message on the wire.
type Message struct {
	ID             string         `json:"id"`
	ClientID       string         `json:"client_id,omitempty"`
	ConversationID string         `json:"conversation_id"`
	From           string         `json:"from"`
	Body           string         `json:"body"`
	ReplyToID      string         `json:"reply_to,omitempty"`
	Reply          *ReplySnapshot `json:"reply,omitempty"`
	HasAttachment  bool           `json:"attachment,omitempty"`
	Timestamp      int64          `json:"ts"` // Unix ms
}

// EventMessageInsert is the only event type the feed delivers.
const EventMessageInsert = "message.insert"

// Event is a single change notification from the realtime feed.
type Event struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id"`
	Message        *Message `json:"message,omitempty"`
}
