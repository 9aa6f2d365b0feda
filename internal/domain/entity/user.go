package entity

import (
	"time"

	"github.com/google/uuid"
)

// User carries the slice of account data the sync engine needs. The full
// account entity is owned by the CRUD service.
type User struct {
	ID    uuid.UUID
	Email string
	// Timezone is the user's IANA zone name. Invalid or empty values are
	// treated as UTC by the timezone resolver.
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
