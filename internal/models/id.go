package models

import "github.com/google/uuid"

// NewRowID generates a time-ordered UUID v7 for a new row.
func NewRowID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
