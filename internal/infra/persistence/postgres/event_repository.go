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

// eventRepository implements repository.EventRepository using GORM.
type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository is the constructor for eventRepository.
func NewEventRepository(db *gorm.DB) repository.EventRepository {
	return &eventRepository{db: db}
}

// FindByID retrieves a single event by its unique ID.
func (repo *eventRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Event, error) {
	var eventM model.EventModel
	if err := repo.db.WithContext(ctx).First(&eventM, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrEventNotFound
		}

		return nil, errors.Wrap(err, "failed to find event by id")
	}

	return toEventDomain(&eventM), nil
}

// FindInWindow retrieves the events of a calendar whose civil start date
// falls within [from, to]. Recurring templates are excluded; only concrete
// instances participate in sync.
func (repo *eventRepository) FindInWindow(ctx context.Context, calendarID uuid.UUID, from, to string) ([]*entity.Event, error) {
	var models []model.EventModel
	err := repo.db.WithContext(ctx).
		Where("calendar_id = ? AND start_date BETWEEN ? AND ? AND NOT is_template", calendarID, from, to).
		Order("start_date, start_time").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events in window")
	}

	events := make([]*entity.Event, 0, len(models))
	for i := range models {
		events = append(events, toEventDomain(&models[i]))
	}

	return events, nil
}

// Create persists a new event.
func (repo *eventRepository) Create(ctx context.Context, event *entity.Event) error {
	eventM := fromEventDomain(event)
	if err := repo.db.WithContext(ctx).Create(eventM).Error; err != nil {
		return errors.Wrap(err, "failed to create event")
	}

	event.ID = eventM.ID
	event.CreatedAt = eventM.CreatedAt
	event.UpdatedAt = eventM.UpdatedAt

	return nil
}

// Update overwrites an existing event's fields.
func (repo *eventRepository) Update(ctx context.Context, event *entity.Event) error {
	eventM := fromEventDomain(event)
	result := repo.db.WithContext(ctx).Model(&model.EventModel{}).
		Where("id = ?", event.ID).
		Updates(map[string]any{
			"title":       eventM.Title,
			"description": eventM.Description,
			"location":    eventM.Location,
			"all_day":     eventM.AllDay,
			"start_date":  eventM.StartDate,
			"start_time":  eventM.StartTime,
			"end_date":    eventM.EndDate,
			"end_time":    eventM.EndTime,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update event")
	}
	if result.RowsAffected == 0 {
		return repository.ErrEventNotFound
	}

	return nil
}

// Delete removes an event.
func (repo *eventRepository) Delete(ctx context.Context, id uuid.UUID) error {
	err := repo.db.WithContext(ctx).
		Delete(&model.EventModel{}, "id = ?", id).Error

	return errors.Wrap(err, "failed to delete event")
}

// --- Mapper Functions ---

func toEventDomain(data *model.EventModel) *entity.Event {
	if data == nil {
		return nil
	}

	return &entity.Event{
		ID:                 data.ID,
		CalendarID:         data.CalendarID,
		Title:              data.Title,
		Description:        data.Description,
		Location:           data.Location,
		AllDay:             data.AllDay,
		StartDate:          data.StartDate,
		StartTime:          data.StartTime,
		EndDate:            data.EndDate,
		EndTime:            data.EndTime,
		RecurrenceParentID: data.RecurrenceParentID,
		OriginalDate:       data.OriginalDate,
		IsTemplate:         data.IsTemplate,
		CreatedAt:          data.CreatedAt,
		UpdatedAt:          data.UpdatedAt,
	}
}

func fromEventDomain(data *entity.Event) *model.EventModel {
	if data == nil {
		return nil
	}

	return &model.EventModel{
		ID:                 data.ID,
		CalendarID:         data.CalendarID,
		Title:              data.Title,
		Description:        data.Description,
		Location:           data.Location,
		AllDay:             data.AllDay,
		StartDate:          data.StartDate,
		StartTime:          data.StartTime,
		EndDate:            data.EndDate,
		EndTime:            data.EndTime,
		RecurrenceParentID: data.RecurrenceParentID,
		OriginalDate:       data.OriginalDate,
		IsTemplate:         data.IsTemplate,
	}
}
