// Package repository defines the interfaces for the persistence layer.
// These interfaces act as a contract between the domain/application layers
// and the infrastructure layer.
package repository

import (
	"context"
	"errors"
	"time"

	"calsync/internal/domain/entity"

	"github.com/google/uuid"
)

// ErrConnectionNotFound is returned when a sync connection is not found.
var ErrConnectionNotFound = errors.New("sync connection not found")

// ConnectionRepository defines persistence operations for sync connections.
type ConnectionRepository interface {
	// FindByID retrieves a single connection by its unique ID.
	FindByID(ctx context.Context, id uuid.UUID) (*entity.SyncConnection, error)

	// FindByUserAndProvider retrieves the connection for one (user, provider)
	// pair regardless of status.
	FindByUserAndProvider(ctx context.Context, userID uuid.UUID, provider entity.Provider) (*entity.SyncConnection, error)

	// FindActiveByUser retrieves all active connections for a user.
	FindActiveByUser(ctx context.Context, userID uuid.UUID) ([]*entity.SyncConnection, error)

	// FindDueForSync retrieves active connections whose last sync is older
	// than the cutoff (or that never synced).
	FindDueForSync(ctx context.Context, cutoff time.Time) ([]*entity.SyncConnection, error)

	// Create persists a new connection.
	Create(ctx context.Context, conn *entity.SyncConnection) error

	// Update modifies an existing connection.
	Update(ctx context.Context, conn *entity.SyncConnection) error

	// UpdateTokens persists refreshed credentials for a connection.
	UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error

	// UpdateStatus transitions a connection's lifecycle status.
	UpdateStatus(ctx context.Context, id uuid.UUID, status entity.ConnectionStatus) error

	// MarkSynced stamps the connection's last full-sync time.
	MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error
}
