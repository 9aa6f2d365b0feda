package msgraph

import (
	"strings"
	"time"

	"calsync/internal/domain/provider"
	"calsync/internal/infra/timezone"
)

// graphTimeFormat is the second-precision shape Graph accepts on writes;
// reads carry a fractional suffix that parseGraphTime trims off.
const graphTimeFormat = "2006-01-02T15:04:05"

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphLocation struct {
	DisplayName string `json:"displayName"`
}

type graphEvent struct {
	ID             string         `json:"id"`
	Subject        string         `json:"subject"`
	Body           *graphItemBody `json:"body"`
	BodyPreview    string         `json:"bodyPreview"`
	Location       *graphLocation `json:"location"`
	Start          *graphDateTime `json:"start"`
	End            *graphDateTime `json:"end"`
	IsAllDay       bool           `json:"isAllDay"`
	SeriesMasterID string         `json:"seriesMasterId"`
	OriginalStart  string         `json:"originalStart"`
	LastModified   string         `json:"lastModifiedDateTime"`
	Removed        *struct {
		Reason string `json:"reason"`
	} `json:"@removed"`
}

// graphEventPayload is the write-side shape sent on POST and PATCH.
type graphEventPayload struct {
	Subject  string         `json:"subject"`
	IsAllDay bool           `json:"isAllDay"`
	Body     *graphItemBody `json:"body,omitempty"`
	Location *graphLocation `json:"location,omitempty"`
	Start    *graphDateTime `json:"start"`
	End      *graphDateTime `json:"end"`
}

func toCanonical(item *graphEvent, userTZ string) provider.CanonicalEvent {
	canonical := provider.CanonicalEvent{
		Title:            item.Subject,
		Description:      item.BodyPreview,
		RecurringEventID: item.SeriesMasterID,
	}
	if item.Body != nil && item.Body.Content != "" {
		canonical.Description = item.Body.Content
	}
	if item.Location != nil {
		canonical.Location = item.Location.DisplayName
	}

	if item.IsAllDay {
		canonical.AllDay = true
		if item.Start != nil {
			canonical.StartDate = allDayDate(item.Start.DateTime)
		}
		if item.End != nil {
			// Graph reports an exclusive end date.
			if date := allDayDate(item.End.DateTime); date != "" {
				canonical.EndDate = timezone.ImportAllDayEnd(date)
			}
		}
	} else {
		loc := timezone.UserLocation(userTZ)
		if item.Start != nil {
			if iana, ok := timezone.ToIANAZone(item.Start.TimeZone); ok {
				canonical.Timezone = iana
			}
			canonical.StartDate, canonical.StartTime = importDateTime(item.Start, loc)
		}
		if item.End != nil {
			canonical.EndDate, canonical.EndTime = importDateTime(item.End, loc)
		}
	}

	if item.OriginalStart != "" {
		if parsed, err := time.Parse(time.RFC3339, item.OriginalStart); err == nil {
			canonical.OriginalDate = parsed.In(timezone.UserLocation(userTZ)).Format(timezone.DateLayout)
		}
	}
	if item.LastModified != "" {
		if parsed, err := time.Parse(time.RFC3339, item.LastModified); err == nil {
			canonical.LastModified = parsed
		}
	}

	return canonical
}

// importDateTime converts one Graph start/end block into the user's local
// civil date and clock. The UTC Prefer header pins reads to UTC, but the
// declared zone is honored when Graph sends something else.
func importDateTime(dt *graphDateTime, userLoc *time.Location) (string, string) {
	loc := timezone.ResolveLocation(dt.TimeZone)
	parsed, err := time.ParseInLocation(graphTimeFormat, trimFraction(dt.DateTime), loc)
	if err != nil {
		return "", ""
	}
	local := parsed.In(userLoc)

	return local.Format(timezone.DateLayout), local.Format(timezone.ClockLayout)
}

func trimFraction(value string) string {
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		return value[:idx]
	}

	return value
}

// allDayDate extracts the civil date from an all-day start/end block. Graph
// sends midnight datetimes here; anything shorter than a date or unparseable
// yields "" so a malformed payload degrades to an empty field.
func allDayDate(value string) string {
	if len(value) < len(timezone.DateLayout) {
		return ""
	}
	date := value[:len(timezone.DateLayout)]
	if _, err := time.Parse(timezone.DateLayout, date); err != nil {
		return ""
	}

	return date
}

func fromCanonical(ev *provider.CanonicalEvent) *graphEventPayload {
	payload := &graphEventPayload{
		Subject:  ev.Title,
		IsAllDay: ev.AllDay,
	}
	if ev.Description != "" {
		payload.Body = &graphItemBody{ContentType: "text", Content: ev.Description}
	}
	if ev.Location != "" {
		payload.Location = &graphLocation{DisplayName: ev.Location}
	}

	if ev.AllDay {
		payload.Start = &graphDateTime{
			DateTime: ev.StartDate + "T00:00:00",
			TimeZone: "UTC",
		}
		payload.End = &graphDateTime{
			// Graph wants the exclusive end date back.
			DateTime: timezone.ExportAllDayEnd(ev.EndDate) + "T00:00:00",
			TimeZone: "UTC",
		}

		return payload
	}

	payload.Start = exportDateTime(ev.StartDate, ev.StartTime, ev.Timezone)
	payload.End = exportDateTime(ev.EndDate, ev.EndTime, ev.Timezone)

	return payload
}

// exportDateTime renders a civil date and clock for Graph. Zones with a
// Windows alias keep their wall time; anything unmapped is converted to UTC
// instants instead, since Graph rejects unknown zone names.
func exportDateTime(date, clock, zone string) *graphDateTime {
	if windowsZone, ok := timezone.ToWindowsZone(zone); ok {
		return &graphDateTime{
			DateTime: date + "T" + clock + ":00",
			TimeZone: windowsZone,
		}
	}

	instant, err := timezone.ParseCivil(date, clock, zone)
	if err != nil {
		instant, _ = timezone.ParseCivil(date, clock)
	}

	return &graphDateTime{
		DateTime: instant.UTC().Format(graphTimeFormat),
		TimeZone: "UTC",
	}
}
