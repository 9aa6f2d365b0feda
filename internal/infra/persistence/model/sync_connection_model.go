// Package model holds the GORM persistence models backing the domain
// entities. They mirror tables one to one and never leak past the postgres
// package.
package model

import (
	"time"

	"github.com/google/uuid"
)

// SyncConnectionModel mirrors the 'sync_connections' table. PostgreSQL
// generates UUIDs via uuid_generate_v7().
type SyncConnectionModel struct {
	ID                uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v7()"`
	UserID            uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_sync_connections_user_provider"`
	Provider          string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_sync_connections_user_provider"`
	ProviderAccountID string    `gorm:"type:varchar(255)"`
	AccessToken       string    `gorm:"type:text;not null"`
	RefreshToken      string    `gorm:"type:text"`
	TokenExpiresAt    time.Time
	Status            string `gorm:"type:varchar(16);not null;index"`
	LastSyncAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time

	SyncedCalendars []SyncedCalendarModel `gorm:"foreignKey:ConnectionID;constraint:OnDelete:CASCADE"`
}

// TableName explicitly sets the table name for GORM.
func (SyncConnectionModel) TableName() string {
	return "sync_connections"
}
