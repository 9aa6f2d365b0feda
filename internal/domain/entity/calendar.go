package entity

import (
	"time"

	"github.com/google/uuid"
)

// Calendar is a local calendar. Mirror calendars are created by the sync
// engine to hold imported events and are removed on disconnect.
type Calendar struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	Color     string
	IsMirror  bool // True when this calendar mirrors an external one.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SyncedCalendar is one external calendar the user opted into syncing.
// The external calendar id is unique within its connection.
type SyncedCalendar struct {
	ID              uuid.UUID
	ConnectionID    uuid.UUID
	LocalCalendarID uuid.UUID
	ExternalID      string
	ExternalName    string
	// Bidirectional enables local→external propagation in addition to the
	// default external→local import.
	Bidirectional bool
	// Cursor is the opaque provider-issued incremental-sync token. Empty
	// means the next fetch is a full-window fetch.
	Cursor     string
	LastSyncAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
