package googlecal

import (
	"time"

	"calsync/internal/domain/provider"
	"calsync/internal/infra/timezone"
)

// googleEvent is the wire shape of one Google Calendar event. This file is
// the only place these field names are known.
type googleEvent struct {
	ID                string           `json:"id,omitempty"`
	Status            string           `json:"status,omitempty"`
	Summary           string           `json:"summary,omitempty"`
	Description       string           `json:"description,omitempty"`
	Location          string           `json:"location,omitempty"`
	Start             *googleEventTime `json:"start,omitempty"`
	End               *googleEventTime `json:"end,omitempty"`
	RecurringEventID  string           `json:"recurringEventId,omitempty"`
	OriginalStartTime *googleEventTime `json:"originalStartTime,omitempty"`
	Updated           string           `json:"updated,omitempty"`
}

// googleEventTime carries either a civil date (all-day) or an RFC3339
// dateTime with an optional zone.
type googleEventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type calendarListPage struct {
	Items []struct {
		ID         string `json:"id"`
		Summary    string `json:"summary"`
		Primary    bool   `json:"primary"`
		AccessRole string `json:"accessRole"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

type eventsPage struct {
	Items         []googleEvent `json:"items"`
	NextPageToken string        `json:"nextPageToken"`
	NextSyncToken string        `json:"nextSyncToken"`
}

// toCanonical translates a Google event into the engine's canonical shape,
// rendered in the user's timezone. All-day exclusive end dates become
// inclusive.
func toCanonical(ev *googleEvent, userTZ string) provider.CanonicalEvent {
	canonical := provider.CanonicalEvent{
		Title:            ev.Summary,
		Description:      ev.Description,
		Location:         ev.Location,
		Timezone:         userTZ,
		RecurringEventID: ev.RecurringEventID,
	}

	if ev.Updated != "" {
		if updated, err := time.Parse(time.RFC3339, ev.Updated); err == nil {
			canonical.LastModified = updated
		}
	}

	if ev.Start != nil && ev.Start.Date != "" {
		canonical.AllDay = true
		canonical.StartDate = ev.Start.Date
		canonical.EndDate = canonical.StartDate
		if ev.End != nil && ev.End.Date != "" {
			canonical.EndDate = timezone.ImportAllDayEnd(ev.End.Date)
		}
	} else if ev.Start != nil {
		canonical.StartDate, canonical.StartTime = importDateTime(ev.Start, userTZ)
		if ev.End != nil {
			canonical.EndDate, canonical.EndTime = importDateTime(ev.End, userTZ)
		} else {
			canonical.EndDate, canonical.EndTime = canonical.StartDate, canonical.StartTime
		}
	}

	if ev.OriginalStartTime != nil {
		if ev.OriginalStartTime.Date != "" {
			canonical.OriginalDate = ev.OriginalStartTime.Date
		} else if ev.OriginalStartTime.DateTime != "" {
			if ts, err := time.Parse(time.RFC3339, ev.OriginalStartTime.DateTime); err == nil {
				canonical.OriginalDate, _ = timezone.ToUserLocal(ts, userTZ)
			}
		}
	}

	return canonical
}

// fromCanonical renders a canonical event as a Google payload. Timed events
// carry the IANA zone directly; all-day inclusive end dates become exclusive.
func fromCanonical(ev *provider.CanonicalEvent) *googleEvent {
	out := &googleEvent{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
	}

	if ev.AllDay {
		out.Start = &googleEventTime{Date: ev.StartDate}
		out.End = &googleEventTime{Date: timezone.ExportAllDayEnd(ev.EndDate)}

		return out
	}

	zone := ev.Timezone
	if zone == "" {
		zone = "UTC"
	}
	out.Start = &googleEventTime{DateTime: exportDateTime(ev.StartDate, ev.StartTime, zone), TimeZone: zone}
	out.End = &googleEventTime{DateTime: exportDateTime(ev.EndDate, ev.EndTime, zone), TimeZone: zone}

	return out
}

func importDateTime(t *googleEventTime, userTZ string) (date, clock string) {
	ts, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return "", ""
	}

	return timezone.ToUserLocal(ts, userTZ)
}

func exportDateTime(date, clock, zone string) string {
	ts, err := timezone.ParseCivil(date, clock, zone)
	if err != nil {
		return ""
	}

	return ts.Format(time.RFC3339)
}
