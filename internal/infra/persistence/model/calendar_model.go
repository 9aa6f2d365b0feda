package model

import (
	"time"

	"github.com/google/uuid"
)

// CalendarModel mirrors the 'calendars' table.
type CalendarModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v7()"`
	OwnerID   uuid.UUID `gorm:"type:uuid;not null;index"`
	Name      string    `gorm:"type:varchar(255);not null"`
	Color     string    `gorm:"type:varchar(32)"`
	IsMirror  bool      `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Events []EventModel `gorm:"foreignKey:CalendarID;constraint:OnDelete:CASCADE"`
}

// TableName explicitly sets the table name for GORM.
func (CalendarModel) TableName() string {
	return "calendars"
}

// EventModel mirrors the 'events' table. Dates and clock times are stored as
// civil strings in the owning user's timezone, matching the entity.
type EventModel struct {
	ID                 uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v7()"`
	CalendarID         uuid.UUID `gorm:"type:uuid;not null;index"`
	Title              string    `gorm:"type:varchar(512);not null"`
	Description        string    `gorm:"type:text"`
	Location           string    `gorm:"type:varchar(512)"`
	AllDay             bool      `gorm:"not null;default:false"`
	StartDate          string    `gorm:"type:varchar(10);not null;index"`
	StartTime          string    `gorm:"type:varchar(5)"`
	EndDate            string    `gorm:"type:varchar(10);not null"`
	EndTime            string    `gorm:"type:varchar(5)"`
	RecurrenceParentID *uuid.UUID `gorm:"type:uuid;index"`
	OriginalDate       string     `gorm:"type:varchar(10)"`
	IsTemplate         bool       `gorm:"not null;default:false"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName explicitly sets the table name for GORM.
func (EventModel) TableName() string {
	return "events"
}
