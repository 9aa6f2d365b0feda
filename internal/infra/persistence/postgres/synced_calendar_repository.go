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

// syncedCalendarRepository implements repository.SyncedCalendarRepository
// using GORM.
type syncedCalendarRepository struct {
	db *gorm.DB
}

// NewSyncedCalendarRepository is the constructor for syncedCalendarRepository.
func NewSyncedCalendarRepository(db *gorm.DB) repository.SyncedCalendarRepository {
	return &syncedCalendarRepository{db: db}
}

// FindByID retrieves a single synced calendar by its unique ID.
func (repo *syncedCalendarRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.SyncedCalendar, error) {
	var calM model.SyncedCalendarModel
	if err := repo.db.WithContext(ctx).First(&calM, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSyncedCalendarNotFound
		}

		return nil, errors.Wrap(err, "failed to find synced calendar by id")
	}

	return toSyncedCalendarDomain(&calM), nil
}

// FindByConnection retrieves all synced calendars of one connection.
func (repo *syncedCalendarRepository) FindByConnection(ctx context.Context, connectionID uuid.UUID) ([]*entity.SyncedCalendar, error) {
	var models []model.SyncedCalendarModel
	err := repo.db.WithContext(ctx).
		Where("connection_id = ?", connectionID).
		Order("created_at").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list synced calendars by connection")
	}

	return toSyncedCalendarDomains(models), nil
}

// FindByConnectionAndExternalID retrieves one synced calendar by its
// provider-side calendar id.
func (repo *syncedCalendarRepository) FindByConnectionAndExternalID(ctx context.Context, connectionID uuid.UUID, externalID string) (*entity.SyncedCalendar, error) {
	var calM model.SyncedCalendarModel
	err := repo.db.WithContext(ctx).
		First(&calM, "connection_id = ? AND external_id = ?", connectionID, externalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSyncedCalendarNotFound
		}

		return nil, errors.Wrap(err, "failed to find synced calendar by external id")
	}

	return toSyncedCalendarDomain(&calM), nil
}

// FindBidirectionalByLocalCalendar retrieves synced calendars mapped to a
// local calendar with bidirectional sync enabled.
func (repo *syncedCalendarRepository) FindBidirectionalByLocalCalendar(ctx context.Context, localCalendarID uuid.UUID) ([]*entity.SyncedCalendar, error) {
	var models []model.SyncedCalendarModel
	err := repo.db.WithContext(ctx).
		Where("local_calendar_id = ? AND bidirectional", localCalendarID).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list bidirectional synced calendars")
	}

	return toSyncedCalendarDomains(models), nil
}

// Create persists a new synced calendar.
func (repo *syncedCalendarRepository) Create(ctx context.Context, cal *entity.SyncedCalendar) error {
	calM := fromSyncedCalendarDomain(cal)
	if err := repo.db.WithContext(ctx).Create(calM).Error; err != nil {
		return errors.Wrap(err, "failed to create synced calendar")
	}

	cal.ID = calM.ID
	cal.CreatedAt = calM.CreatedAt
	cal.UpdatedAt = calM.UpdatedAt

	return nil
}

// Update modifies an existing synced calendar.
func (repo *syncedCalendarRepository) Update(ctx context.Context, cal *entity.SyncedCalendar) error {
	calM := fromSyncedCalendarDomain(cal)
	result := repo.db.WithContext(ctx).Model(&model.SyncedCalendarModel{}).
		Where("id = ?", cal.ID).
		Updates(map[string]any{
			"external_name": calM.ExternalName,
			"bidirectional": calM.Bidirectional,
			"cursor":        calM.Cursor,
			"last_sync_at":  calM.LastSyncAt,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update synced calendar")
	}
	if result.RowsAffected == 0 {
		return repository.ErrSyncedCalendarNotFound
	}

	return nil
}

// UpdateCursor persists the incremental-sync cursor and last-sync time.
func (repo *syncedCalendarRepository) UpdateCursor(ctx context.Context, id uuid.UUID, cursor string, syncedAt time.Time) error {
	result := repo.db.WithContext(ctx).Model(&model.SyncedCalendarModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"cursor":       cursor,
			"last_sync_at": syncedAt,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update synced calendar cursor")
	}
	if result.RowsAffected == 0 {
		return repository.ErrSyncedCalendarNotFound
	}

	return nil
}

// DeleteByConnection removes all synced calendars of a connection. Event
// mappings go with them via the ON DELETE CASCADE constraint.
func (repo *syncedCalendarRepository) DeleteByConnection(ctx context.Context, connectionID uuid.UUID) error {
	err := repo.db.WithContext(ctx).
		Where("connection_id = ?", connectionID).
		Delete(&model.SyncedCalendarModel{}).Error

	return errors.Wrap(err, "failed to delete synced calendars by connection")
}

// --- Mapper Functions ---

func toSyncedCalendarDomain(data *model.SyncedCalendarModel) *entity.SyncedCalendar {
	if data == nil {
		return nil
	}

	return &entity.SyncedCalendar{
		ID:              data.ID,
		ConnectionID:    data.ConnectionID,
		LocalCalendarID: data.LocalCalendarID,
		ExternalID:      data.ExternalID,
		ExternalName:    data.ExternalName,
		Bidirectional:   data.Bidirectional,
		Cursor:          data.Cursor,
		LastSyncAt:      data.LastSyncAt,
		CreatedAt:       data.CreatedAt,
		UpdatedAt:       data.UpdatedAt,
	}
}

func toSyncedCalendarDomains(models []model.SyncedCalendarModel) []*entity.SyncedCalendar {
	cals := make([]*entity.SyncedCalendar, 0, len(models))
	for i := range models {
		cals = append(cals, toSyncedCalendarDomain(&models[i]))
	}

	return cals
}

func fromSyncedCalendarDomain(data *entity.SyncedCalendar) *model.SyncedCalendarModel {
	if data == nil {
		return nil
	}

	return &model.SyncedCalendarModel{
		ID:              data.ID,
		ConnectionID:    data.ConnectionID,
		LocalCalendarID: data.LocalCalendarID,
		ExternalID:      data.ExternalID,
		ExternalName:    data.ExternalName,
		Bidirectional:   data.Bidirectional,
		Cursor:          data.Cursor,
		LastSyncAt:      data.LastSyncAt,
	}
}
