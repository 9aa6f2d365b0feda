package model

import (
	"time"

	"github.com/google/uuid"
)

// SyncedCalendarModel mirrors the 'synced_calendars' table. The external
// calendar id is unique within each connection.
type SyncedCalendarModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v7()"`
	ConnectionID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_synced_calendars_conn_external"`
	LocalCalendarID uuid.UUID `gorm:"type:uuid;not null;index"`
	ExternalID      string    `gorm:"type:varchar(1024);not null;uniqueIndex:idx_synced_calendars_conn_external"`
	ExternalName    string    `gorm:"type:varchar(255)"`
	Bidirectional   bool      `gorm:"not null;default:false"`
	Cursor          string    `gorm:"type:text"`
	LastSyncAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	EventMappings []EventMappingModel `gorm:"foreignKey:SyncedCalendarID;constraint:OnDelete:CASCADE"`
}

// TableName explicitly sets the table name for GORM.
func (SyncedCalendarModel) TableName() string {
	return "synced_calendars"
}
