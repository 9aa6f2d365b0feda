package model

import (
	"time"

	"github.com/google/uuid"
)

// EventMappingModel mirrors the 'event_mappings' table. Two unique indexes
// guarantee one mapping per external event and per local event within a
// synced calendar; the duplicate-key error from either is surfaced as
// repository.ErrDuplicateMapping.
type EventMappingModel struct {
	ID                   uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v7()"`
	SyncedCalendarID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_event_mappings_cal_external;uniqueIndex:idx_event_mappings_cal_local"`
	ExternalEventID      string    `gorm:"type:varchar(1024);not null;uniqueIndex:idx_event_mappings_cal_external"`
	LocalEventID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_event_mappings_cal_local"`
	LastModifiedExternal time.Time
	LastModifiedLocal    time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TableName explicitly sets the table name for GORM.
func (EventMappingModel) TableName() string {
	return "event_mappings"
}
