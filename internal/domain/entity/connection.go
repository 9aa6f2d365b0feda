// Package entity contains the core business objects of the sync engine,
// each representing a unique, identifiable concept within the domain.
package entity

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies an external calendar provider.
type Provider string

const (
	// ProviderGoogle is the Google Calendar provider.
	ProviderGoogle Provider = "google"
	// ProviderMicrosoft is the Microsoft Graph (Outlook) calendar provider.
	ProviderMicrosoft Provider = "microsoft"
)

// Valid reports whether p names a supported provider.
func (p Provider) Valid() bool {
	return p == ProviderGoogle || p == ProviderMicrosoft
}

// ConnectionStatus is the lifecycle state of a SyncConnection.
type ConnectionStatus string

const (
	// ConnectionActive means the connection holds usable credentials and
	// participates in background sync.
	ConnectionActive ConnectionStatus = "active"
	// ConnectionInactive means the user disconnected; tokens are cleared.
	ConnectionInactive ConnectionStatus = "inactive"
	// ConnectionError means token refresh or provider auth failed repeatedly;
	// a new OAuth round-trip restores the connection to active.
	ConnectionError ConnectionStatus = "error"
)

// SyncConnection links one user to one provider account. At most one active
// connection exists per (user, provider) pair.
type SyncConnection struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Provider          Provider
	ProviderAccountID string // Provider-side account identifier (email or object id).
	AccessToken       string
	RefreshToken      string // Empty when the provider did not issue one.
	TokenExpiresAt    time.Time
	Status            ConnectionStatus
	LastSyncAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TokenExpiringWithin reports whether the access token expires within d.
func (c *SyncConnection) TokenExpiringWithin(d time.Duration, now time.Time) bool {
	return !c.TokenExpiresAt.After(now.Add(d))
}
