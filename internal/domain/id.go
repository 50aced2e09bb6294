package domain

import "github.com/google/uuid"

// NewID generates a UUIDv7 string for metastore-owned entities.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
