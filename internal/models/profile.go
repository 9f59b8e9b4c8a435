package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile represents a marketplace user as seen by the chat subsystem.
type Profile struct {
	ID         uuid.UUID `json:"id"`
	Nickname   string    `json:"nickname"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	IsProducer bool      `json:"is_producer,omitempty"`
	IsVerified bool      `json:"is_verified,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
