package impl

import (
	"time"

	"calsync/internal/domain/entity"
	"calsync/internal/domain/provider"

	"github.com/google/uuid"
)

// newerThanBoth is the conflict-resolution tie-break: a change is applied in
// a given direction only when it postdates the last time both sides were
// reconciled. This keeps a stale echo of a change we just pushed from being
// misread as a new edit.
func newerThanBoth(modified, lastExternal, lastLocal time.Time) bool {
	return modified.After(lastExternal) && modified.After(lastLocal)
}

// eventFromCanonical builds a new local event from a translated external one.
func eventFromCanonical(calendarID uuid.UUID, canonical *provider.CanonicalEvent) *entity.Event {
	event := &entity.Event{
		ID:         uuid.New(),
		CalendarID: calendarID,
	}
	applyCanonical(event, canonical)

	return event
}

// applyCanonical overwrites a local event's fields from the canonical
// translation.
func applyCanonical(event *entity.Event, canonical *provider.CanonicalEvent) {
	event.Title = canonical.Title
	event.Description = canonical.Description
	event.Location = canonical.Location
	event.AllDay = canonical.AllDay
	event.StartDate = canonical.StartDate
	event.StartTime = canonical.StartTime
	event.EndDate = canonical.EndDate
	event.EndTime = canonical.EndTime
	event.OriginalDate = canonical.OriginalDate
}

// canonicalFromEvent translates a local event for export. Local civil times
// are already in the user's timezone, so that zone rides along for the
// adapter to render in its own convention.
func canonicalFromEvent(event *entity.Event, userTZ string) *provider.CanonicalEvent {
	return &provider.CanonicalEvent{
		Title:        event.Title,
		Description:  event.Description,
		Location:     event.Location,
		Timezone:     userTZ,
		AllDay:       event.AllDay,
		StartDate:    event.StartDate,
		StartTime:    event.StartTime,
		EndDate:      event.EndDate,
		EndTime:      event.EndTime,
		OriginalDate: event.OriginalDate,
		LastModified: event.UpdatedAt,
	}
}
