package model

import (
	"time"

	"github.com/google/uuid"
)

// UserModel mirrors the 'users' table owned by the account service; the sync
// engine only reads it.
type UserModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v7()"`
	Email     string    `gorm:"type:varchar(255);unique;not null"`
	Timezone  string    `gorm:"type:varchar(64)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName explicitly sets the table name for GORM.
func (UserModel) TableName() string {
	return "users"
}
