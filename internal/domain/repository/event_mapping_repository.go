package repository

import (
	"context"
	"errors"
	"time"

	"calsync/internal/domain/entity"

	"github.com/google/uuid"
)

var (
	// ErrMappingNotFound is returned when an event mapping is not found.
	ErrMappingNotFound = errors.New("event mapping not found")
	// ErrDuplicateMapping is returned when creating a mapping would violate
	// the uniqueness of (syncedCalendarId, externalEventId) or
	// (syncedCalendarId, localEventId). Callers resolve the race by
	// discarding the redundant local event.
	ErrDuplicateMapping = errors.New("duplicate event mapping")
)

// EventMappingRepository defines persistence operations for the
// local⇄external event link table.
type EventMappingRepository interface {
	// FindBySyncedCalendar retrieves all mappings of one synced calendar.
	FindBySyncedCalendar(ctx context.Context, syncedCalendarID uuid.UUID) ([]*entity.EventMapping, error)

	// FindByLocalEvent retrieves the mapping of a local event within one
	// synced calendar, if any.
	FindByLocalEvent(ctx context.Context, syncedCalendarID, localEventID uuid.UUID) (*entity.EventMapping, error)

	// Create persists a new mapping. Returns ErrDuplicateMapping when the
	// unique constraints reject it.
	Create(ctx context.Context, mapping *entity.EventMapping) error

	// Touch updates the two last-reconciled timestamps of a mapping.
	Touch(ctx context.Context, id uuid.UUID, lastModifiedExternal, lastModifiedLocal time.Time) error

	// Delete removes one mapping.
	Delete(ctx context.Context, id uuid.UUID) error
}
