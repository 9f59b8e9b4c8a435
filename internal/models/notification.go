package models

import "github.com/google/uuid"

// Notification is a request for the external notification service to
// create a notification for a user. Delivery is fire-and-forget.
type Notification struct {
	UserID  uuid.UUID `json:"user_id"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Link    string    `json:"link"`
}
