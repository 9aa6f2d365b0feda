package postgres

import (
	"context"
	"time"

	"calsync/internal/domain/entity"
	"calsync/internal/domain/repository"
	"calsync/internal/infra/persistence/model"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// eventMappingRepository implements repository.EventMappingRepository using
// GORM.
type eventMappingRepository struct {
	db *gorm.DB
}

// NewEventMappingRepository is the constructor for eventMappingRepository.
func NewEventMappingRepository(db *gorm.DB) repository.EventMappingRepository {
	return &eventMappingRepository{db: db}
}

// FindBySyncedCalendar retrieves all mappings of one synced calendar.
func (repo *eventMappingRepository) FindBySyncedCalendar(ctx context.Context, syncedCalendarID uuid.UUID) ([]*entity.EventMapping, error) {
	var models []model.EventMappingModel
	err := repo.db.WithContext(ctx).
		Where("synced_calendar_id = ?", syncedCalendarID).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list event mappings")
	}

	mappings := make([]*entity.EventMapping, 0, len(models))
	for i := range models {
		mappings = append(mappings, toMappingDomain(&models[i]))
	}

	return mappings, nil
}

// FindByLocalEvent retrieves the mapping of a local event within one synced
// calendar.
func (repo *eventMappingRepository) FindByLocalEvent(ctx context.Context, syncedCalendarID, localEventID uuid.UUID) (*entity.EventMapping, error) {
	var mappingM model.EventMappingModel
	err := repo.db.WithContext(ctx).
		First(&mappingM, "synced_calendar_id = ? AND local_event_id = ?", syncedCalendarID, localEventID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrMappingNotFound
		}

		return nil, errors.Wrap(err, "failed to find event mapping by local event")
	}

	return toMappingDomain(&mappingM), nil
}

// Create persists a new mapping. Duplicate-key violations on either unique
// index surface as repository.ErrDuplicateMapping.
func (repo *eventMappingRepository) Create(ctx context.Context, mapping *entity.EventMapping) error {
	mappingM := fromMappingDomain(mapping)
	if err := repo.db.WithContext(ctx).Create(mappingM).Error; err != nil {
		if isUniqueConstraintViolation(err) {
			return repository.ErrDuplicateMapping
		}

		return errors.Wrap(err, "failed to create event mapping")
	}

	mapping.ID = mappingM.ID
	mapping.CreatedAt = mappingM.CreatedAt
	mapping.UpdatedAt = mappingM.UpdatedAt

	return nil
}

// Touch updates the two last-reconciled timestamps of a mapping.
func (repo *eventMappingRepository) Touch(ctx context.Context, id uuid.UUID, lastModifiedExternal, lastModifiedLocal time.Time) error {
	result := repo.db.WithContext(ctx).Model(&model.EventMappingModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_modified_external": lastModifiedExternal,
			"last_modified_local":    lastModifiedLocal,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to touch event mapping")
	}
	if result.RowsAffected == 0 {
		return repository.ErrMappingNotFound
	}

	return nil
}

// Delete removes one mapping.
func (repo *eventMappingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	err := repo.db.WithContext(ctx).
		Delete(&model.EventMappingModel{}, "id = ?", id).Error

	return errors.Wrap(err, "failed to delete event mapping")
}

// --- Mapper Functions ---

func toMappingDomain(data *model.EventMappingModel) *entity.EventMapping {
	if data == nil {
		return nil
	}

	return &entity.EventMapping{
		ID:                   data.ID,
		SyncedCalendarID:     data.SyncedCalendarID,
		ExternalEventID:      data.ExternalEventID,
		LocalEventID:         data.LocalEventID,
		LastModifiedExternal: data.LastModifiedExternal,
		LastModifiedLocal:    data.LastModifiedLocal,
		CreatedAt:            data.CreatedAt,
		UpdatedAt:            data.UpdatedAt,
	}
}

func fromMappingDomain(data *entity.EventMapping) *model.EventMappingModel {
	if data == nil {
		return nil
	}

	return &model.EventMappingModel{
		ID:                   data.ID,
		SyncedCalendarID:     data.SyncedCalendarID,
		ExternalEventID:      data.ExternalEventID,
		LocalEventID:         data.LocalEventID,
		LastModifiedExternal: data.LastModifiedExternal,
		LastModifiedLocal:    data.LastModifiedLocal,
	}
}
