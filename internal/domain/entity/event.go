package entity

import (
	"time"

	"github.com/google/uuid"
)

// Event is a local calendar event. Dates and clock times are civil values in
// the owning user's timezone; all-day events carry dates only. End dates are
// inclusive.
type Event struct {
	ID          uuid.UUID
	CalendarID  uuid.UUID
	Title       string
	Description string
	Location    string
	AllDay      bool
	StartDate   string // "2006-01-02"
	StartTime   string // "15:04", empty for all-day events.
	EndDate     string
	EndTime     string
	// RecurrenceParentID links a concrete instance to its recurring template.
	// Templates themselves never sync; only instances do.
	RecurrenceParentID *uuid.UUID
	// OriginalDate is the instance's original civil date before any move.
	OriginalDate string
	IsTemplate   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsRecurrenceInstance reports whether e is a concrete instance of a
// recurring template.
func (e *Event) IsRecurrenceInstance() bool {
	return e.RecurrenceParentID != nil
}
