// Package usecase contains the application-specific business rules.
package usecase

import (
	"context"
	"time"

	"calsync/internal/domain/entity"
	"calsync/internal/domain/provider"

	"github.com/google/uuid"
)

// CalendarSelection is one external calendar the user opted into syncing.
type CalendarSelection struct {
	ExternalID    string `json:"externalId"`
	Name          string `json:"name"`
	Bidirectional bool   `json:"bidirectional"`
}

// SyncedCalendarStatus summarizes one synced calendar for the status view.
type SyncedCalendarStatus struct {
	ExternalID    string     `json:"externalId"`
	Name          string     `json:"name"`
	Bidirectional bool       `json:"bidirectional"`
	LastSyncAt    *time.Time `json:"lastSyncAt,omitempty"`
}

// ConnectionStatus summarizes one provider connection for the status view.
type ConnectionStatus struct {
	Provider   entity.Provider         `json:"provider"`
	Status     entity.ConnectionStatus `json:"status"`
	AccountID  string                  `json:"accountId"`
	LastSyncAt *time.Time              `json:"lastSyncAt,omitempty"`
	Calendars  []SyncedCalendarStatus  `json:"calendars"`
}

// SyncUsecase defines the public operations of the calendar sync engine.
type SyncUsecase interface {
	// AuthorizationURL builds the provider consent URL for a user.
	AuthorizationURL(ctx context.Context, userID uuid.UUID, prov entity.Provider) (string, error)

	// CompleteOAuth handles the provider callback: verifies state, exchanges
	// the code, and creates or reactivates the user's connection.
	CompleteOAuth(ctx context.Context, prov entity.Provider, code, state string) error

	// ListExternalCalendars fetches the calendars available on the user's
	// active connection to the provider.
	ListExternalCalendars(ctx context.Context, userID uuid.UUID, prov entity.Provider) ([]provider.ExternalCalendar, error)

	// ConnectCalendars enables sync for the selected external calendars.
	// Re-selecting an already-synced calendar updates its bidirectional flag
	// and renames its local mirror when the external name changed.
	ConnectCalendars(ctx context.Context, userID uuid.UUID, prov entity.Provider, selections []CalendarSelection) error

	// ForceSync runs reconciliation for every active connection of the user,
	// bypassing the minimum-interval gate.
	ForceSync(ctx context.Context, userID uuid.UUID) error

	// Disconnect clears tokens and removes all synced calendars, mappings and
	// mirror calendars. An empty provider disconnects every active connection.
	Disconnect(ctx context.Context, userID uuid.UUID, prov entity.Provider) error

	// Status reports the user's connections and their synced calendars.
	Status(ctx context.Context, userID uuid.UUID) ([]ConnectionStatus, error)

	// Tick runs reconciliation for every active connection whose last sync is
	// older than the poll interval. Called by the background worker.
	Tick(ctx context.Context) error
}
