package repository

import (
	"context"
	"errors"

	"calsync/internal/domain/entity"

	"github.com/google/uuid"
)

var (
	// ErrEventNotFound is returned when a local event is not found.
	ErrEventNotFound = errors.New("event not found")
	// ErrCalendarNotFound is returned when a local calendar is not found.
	ErrCalendarNotFound = errors.New("calendar not found")
	// ErrUserNotFound is returned when a user is not found.
	ErrUserNotFound = errors.New("user not found")
)

// EventRepository is the narrow view of the event CRUD service's storage that
// the sync engine needs: reading events in the sync window and applying
// imports. Access-control checks belong to the CRUD service, not here.
type EventRepository interface {
	// FindByID retrieves a single event by its unique ID.
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Event, error)

	// FindInWindow retrieves the events of a calendar whose civil start date
	// falls within [from, to] (dates formatted "2006-01-02").
	FindInWindow(ctx context.Context, calendarID uuid.UUID, from, to string) ([]*entity.Event, error)

	// Create persists a new event.
	Create(ctx context.Context, event *entity.Event) error

	// Update overwrites an existing event's fields.
	Update(ctx context.Context, event *entity.Event) error

	// Delete removes an event.
	Delete(ctx context.Context, id uuid.UUID) error
}

// CalendarRepository covers the local mirror calendars the engine creates for
// imported events.
type CalendarRepository interface {
	// FindByID retrieves a single calendar by its unique ID.
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Calendar, error)

	// Create persists a new calendar.
	Create(ctx context.Context, cal *entity.Calendar) error

	// Rename updates a calendar's display name.
	Rename(ctx context.Context, id uuid.UUID, name string) error

	// Delete removes a calendar and its events.
	Delete(ctx context.Context, id uuid.UUID) error
}

// UserRepository is the narrow read-only view of user accounts the engine
// needs to resolve timezones.
type UserRepository interface {
	// FindByID retrieves a single user by their unique ID.
	FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error)
}
