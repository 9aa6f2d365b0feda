// Package provider defines the outbound port for external calendar
// providers and the canonical event shape exchanged through it.
package provider

import (
	"context"
	"time"

	"calsync/internal/domain/entity"
)

// CanonicalEvent is the provider-agnostic in-memory event representation.
// Dates and clock times are civil values in the owning user's timezone;
// all-day events carry dates only, with inclusive end dates.
type CanonicalEvent struct {
	Title       string
	Description string
	Location    string
	// Timezone is the IANA zone the civil date/time values are rendered in.
	Timezone string
	AllDay   bool
	StartDate   string // "2006-01-02"
	StartTime   string // "15:04", empty for all-day events.
	EndDate     string
	EndTime     string
	// RecurringEventID links a concrete instance to its external recurring
	// series, when the provider reports one.
	RecurringEventID string
	// OriginalDate is the instance's original civil date within the series.
	OriginalDate string
	// LastModified is the provider-reported modification instant, used by
	// the reconciliation tie-break.
	LastModified time.Time
}

// ExternalCalendar is one calendar as listed by a provider.
type ExternalCalendar struct {
	ID        string
	Name      string
	IsPrimary bool
	CanEdit   bool
}

// ExternalEvent pairs a provider event id with its canonical translation.
type ExternalEvent struct {
	ID        string
	Canonical CanonicalEvent
}

// FetchOptions configures one fetch cycle.
type FetchOptions struct {
	// Cursor is the stored incremental-sync token; empty forces a full
	// window fetch.
	Cursor string
	// WindowStart/WindowEnd bound full fetches.
	WindowStart time.Time
	WindowEnd   time.Time
	// UserTimezone is the IANA zone canonical events are rendered in.
	UserTimezone string
}

// FetchResult is the outcome of one fetch cycle.
type FetchResult struct {
	Events     []ExternalEvent
	DeletedIDs []string
	// NextCursor is the provider's token for the next incremental fetch.
	// Empty when the provider issued none.
	NextCursor string
}

// Adapter is the per-provider port: it fetches external calendars and events
// (full or incremental), applies writes, and is the only place
// provider-native field names are known.
type Adapter interface {
	// Provider identifies which provider this adapter speaks to.
	Provider() entity.Provider

	// ListCalendars fetches the calendars of the connected account.
	ListCalendars(ctx context.Context, conn *entity.SyncConnection) ([]ExternalCalendar, error)

	// FetchEvents returns the changes for one calendar. With a cursor it uses
	// the provider's delta mechanism and returns ErrCursorExpired on a
	// 410 Gone; without one it scans the configured window.
	FetchEvents(ctx context.Context, conn *entity.SyncConnection, calendarID string, opts FetchOptions) (*FetchResult, error)

	// CreateEvent creates an external event and returns its provider id.
	CreateEvent(ctx context.Context, conn *entity.SyncConnection, calendarID string, ev *CanonicalEvent) (string, error)

	// UpdateEvent overwrites an existing external event.
	UpdateEvent(ctx context.Context, conn *entity.SyncConnection, calendarID, externalID string, ev *CanonicalEvent) error

	// DeleteEvent removes an external event. A provider 404 is treated as
	// already deleted, not an error.
	DeleteEvent(ctx context.Context, conn *entity.SyncConnection, calendarID, externalID string) error
}
