package repository

import (
	"context"
	"errors"
	"time"

	"calsync/internal/domain/entity"

	"github.com/google/uuid"
)

// ErrSyncedCalendarNotFound is returned when a synced calendar is not found.
var ErrSyncedCalendarNotFound = errors.New("synced calendar not found")

// SyncedCalendarRepository defines persistence operations for the calendars a
// user has opted into syncing.
type SyncedCalendarRepository interface {
	// FindByID retrieves a single synced calendar by its unique ID.
	FindByID(ctx context.Context, id uuid.UUID) (*entity.SyncedCalendar, error)

	// FindByConnection retrieves all synced calendars of one connection.
	FindByConnection(ctx context.Context, connectionID uuid.UUID) ([]*entity.SyncedCalendar, error)

	// FindByConnectionAndExternalID retrieves one synced calendar by its
	// provider-side calendar id. External ids are unique per connection.
	FindByConnectionAndExternalID(ctx context.Context, connectionID uuid.UUID, externalID string) (*entity.SyncedCalendar, error)

	// FindBidirectionalByLocalCalendar retrieves synced calendars mapped to a
	// local calendar with bidirectional sync enabled.
	FindBidirectionalByLocalCalendar(ctx context.Context, localCalendarID uuid.UUID) ([]*entity.SyncedCalendar, error)

	// Create persists a new synced calendar.
	Create(ctx context.Context, cal *entity.SyncedCalendar) error

	// Update modifies an existing synced calendar.
	Update(ctx context.Context, cal *entity.SyncedCalendar) error

	// UpdateCursor persists the incremental-sync cursor and last-sync time.
	UpdateCursor(ctx context.Context, id uuid.UUID, cursor string, syncedAt time.Time) error

	// DeleteByConnection removes all synced calendars of a connection,
	// cascading to their event mappings.
	DeleteByConnection(ctx context.Context, connectionID uuid.UUID) error
}
