package postgres

import (
	"context"

	"calsync/internal/domain/entity"
	"calsync/internal/domain/repository"
	"calsync/internal/infra/persistence/model"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// calendarRepository implements repository.CalendarRepository using GORM.
type calendarRepository struct {
	db *gorm.DB
}

// NewCalendarRepository is the constructor for calendarRepository.
func NewCalendarRepository(db *gorm.DB) repository.CalendarRepository {
	return &calendarRepository{db: db}
}

// FindByID retrieves a single calendar by its unique ID.
func (repo *calendarRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Calendar, error) {
	var calM model.CalendarModel
	if err := repo.db.WithContext(ctx).First(&calM, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrCalendarNotFound
		}

		return nil, errors.Wrap(err, "failed to find calendar by id")
	}

	return toCalendarDomain(&calM), nil
}

// Create persists a new calendar.
func (repo *calendarRepository) Create(ctx context.Context, cal *entity.Calendar) error {
	calM := fromCalendarDomain(cal)
	if err := repo.db.WithContext(ctx).Create(calM).Error; err != nil {
		return errors.Wrap(err, "failed to create calendar")
	}

	cal.ID = calM.ID
	cal.CreatedAt = calM.CreatedAt
	cal.UpdatedAt = calM.UpdatedAt

	return nil
}

// Rename updates a calendar's display name.
func (repo *calendarRepository) Rename(ctx context.Context, id uuid.UUID, name string) error {
	result := repo.db.WithContext(ctx).Model(&model.CalendarModel{}).
		Where("id = ?", id).
		Update("name", name)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to rename calendar")
	}
	if result.RowsAffected == 0 {
		return repository.ErrCalendarNotFound
	}

	return nil
}

// Delete removes a calendar; its events go with it via the ON DELETE CASCADE
// constraint.
func (repo *calendarRepository) Delete(ctx context.Context, id uuid.UUID) error {
	err := repo.db.WithContext(ctx).
		Delete(&model.CalendarModel{}, "id = ?", id).Error

	return errors.Wrap(err, "failed to delete calendar")
}

// --- Mapper Functions ---

func toCalendarDomain(data *model.CalendarModel) *entity.Calendar {
	if data == nil {
		return nil
	}

	return &entity.Calendar{
		ID:        data.ID,
		OwnerID:   data.OwnerID,
		Name:      data.Name,
		Color:     data.Color,
		IsMirror:  data.IsMirror,
		CreatedAt: data.CreatedAt,
		UpdatedAt: data.UpdatedAt,
	}
}

func fromCalendarDomain(data *entity.Calendar) *model.CalendarModel {
	if data == nil {
		return nil
	}

	return &model.CalendarModel{
		ID:       data.ID,
		OwnerID:  data.OwnerID,
		Name:     data.Name,
		Color:    data.Color,
		IsMirror: data.IsMirror,
	}
}
