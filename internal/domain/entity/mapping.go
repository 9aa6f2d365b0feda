package entity

import (
	"time"

	"github.com/google/uuid"
)

// EventMapping is the persistent link between one local event and one
// external event. It is the conflict-resolution ledger: both "last seen"
// timestamps are compared against the current external and local modification
// times to decide which side changed since the last reconciliation.
//
// Unique on (SyncedCalendarID, ExternalEventID) and on
// (SyncedCalendarID, LocalEventID).
type EventMapping struct {
	ID                   uuid.UUID
	SyncedCalendarID     uuid.UUID
	ExternalEventID      string
	LocalEventID         uuid.UUID
	LastModifiedExternal time.Time
	LastModifiedLocal    time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
