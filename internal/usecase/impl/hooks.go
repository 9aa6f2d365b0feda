package impl

import (
	"context"
	"log/slog"
	"time"

	"calsync/internal/domain/entity"
	"calsync/internal/domain/provider"
	"calsync/internal/domain/repository"
	"calsync/internal/infra/metrics"
	"calsync/internal/usecase"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/fx"
)

// localChangeHooks propagates committed local writes to bidirectional synced
// calendars outside the polling cycle. Every failure here is logged and
// swallowed; the local CRUD operation that triggered the hook already
// succeeded and must never be blocked.
type localChangeHooks struct {
	syncedCal   repository.SyncedCalendarRepository
	connRepo    repository.ConnectionRepository
	mappingRepo repository.EventMappingRepository
	userRepo    repository.UserRepository
	adapters    map[entity.Provider]provider.Adapter
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// LocalChangeHooksParams holds dependencies for LocalChangeHooks, injected by Fx.
type LocalChangeHooksParams struct {
	fx.In

	SyncedCal   repository.SyncedCalendarRepository
	ConnRepo    repository.ConnectionRepository
	MappingRepo repository.EventMappingRepository
	UserRepo    repository.UserRepository
	Adapters    []provider.Adapter `group:"providers"`
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// NewLocalChangeHooks creates the fire-and-forget local change propagator.
func NewLocalChangeHooks(params LocalChangeHooksParams) usecase.LocalChangeHooks {
	adapters := make(map[entity.Provider]provider.Adapter, len(params.Adapters))
	for _, adapter := range params.Adapters {
		adapters[adapter.Provider()] = adapter
	}

	return &localChangeHooks{
		syncedCal:   params.SyncedCal,
		connRepo:    params.ConnRepo,
		mappingRepo: params.MappingRepo,
		userRepo:    params.UserRepo,
		adapters:    adapters,
		metrics:     params.Metrics,
		logger:      params.Logger,
	}
}

// OnLocalEventCreated pushes a newly created local event outward.
func (h *localChangeHooks) OnLocalEventCreated(ctx context.Context, event *entity.Event) {
	h.propagateUpsert(ctx, event)
}

// OnLocalEventUpdated pushes a local edit when it is newer than both stored
// mapping timestamps.
func (h *localChangeHooks) OnLocalEventUpdated(ctx context.Context, event *entity.Event) {
	h.propagateUpsert(ctx, event)
}

// OnLocalEventDeleted removes the external counterpart and the mapping.
func (h *localChangeHooks) OnLocalEventDeleted(ctx context.Context, event *entity.Event) {
	if event.IsTemplate {
		return
	}

	h.forEachTarget(ctx, event, func(adapter provider.Adapter, conn *entity.SyncConnection, cal *entity.SyncedCalendar, _ string) {
		mapping, err := h.mappingRepo.FindByLocalEvent(ctx, cal.ID, event.ID)
		if err != nil {
			if !errors.Is(err, repository.ErrMappingNotFound) {
				h.logHookError(ctx, "failed to look up mapping for deletion", event.ID, err)
			}

			return
		}

		if err := adapter.DeleteEvent(ctx, conn, cal.ExternalID, mapping.ExternalEventID); err != nil {
			h.logHookError(ctx, "failed to delete external event", event.ID, err)

			return
		}
		if err := h.mappingRepo.Delete(ctx, mapping.ID); err != nil {
			h.logHookError(ctx, "failed to delete mapping", event.ID, err)

			return
		}
		h.metrics.EventsApplied.WithLabelValues(string(conn.Provider), "export", "delete").Inc()
	})
}

// propagateUpsert creates or updates the external counterpart on every
// bidirectional target. Recurring templates never sync.
func (h *localChangeHooks) propagateUpsert(ctx context.Context, event *entity.Event) {
	if event.IsTemplate {
		return
	}

	h.forEachTarget(ctx, event, func(adapter provider.Adapter, conn *entity.SyncConnection, cal *entity.SyncedCalendar, userTZ string) {
		mapping, err := h.mappingRepo.FindByLocalEvent(ctx, cal.ID, event.ID)
		if err != nil {
			if !errors.Is(err, repository.ErrMappingNotFound) {
				h.logHookError(ctx, "failed to look up mapping", event.ID, err)

				return
			}
			h.exportCreate(ctx, adapter, conn, cal, event, userTZ)

			return
		}

		if !newerThanBoth(event.UpdatedAt, mapping.LastModifiedExternal, mapping.LastModifiedLocal) {
			return
		}

		if err := adapter.UpdateEvent(ctx, conn, cal.ExternalID, mapping.ExternalEventID, canonicalFromEvent(event, userTZ)); err != nil {
			h.logHookError(ctx, "failed to push local edit", event.ID, err)

			return
		}
		if err := h.mappingRepo.Touch(ctx, mapping.ID, mapping.LastModifiedExternal, event.UpdatedAt); err != nil {
			h.logHookError(ctx, "failed to touch mapping", event.ID, err)

			return
		}
		h.metrics.EventsApplied.WithLabelValues(string(conn.Provider), "export", "update").Inc()
	})
}

func (h *localChangeHooks) exportCreate(ctx context.Context, adapter provider.Adapter, conn *entity.SyncConnection, cal *entity.SyncedCalendar, event *entity.Event, userTZ string) {
	externalID, err := adapter.CreateEvent(ctx, conn, cal.ExternalID, canonicalFromEvent(event, userTZ))
	if err != nil {
		h.logHookError(ctx, "failed to create external event", event.ID, err)

		return
	}

	now := time.Now()
	mapping := &entity.EventMapping{
		ID:                   uuid.New(),
		SyncedCalendarID:     cal.ID,
		ExternalEventID:      externalID,
		LocalEventID:         event.ID,
		LastModifiedExternal: now,
		LastModifiedLocal:    now,
	}
	if err := h.mappingRepo.Create(ctx, mapping); err != nil {
		h.logHookError(ctx, "failed to create mapping", event.ID, err)

		return
	}
	h.metrics.EventsApplied.WithLabelValues(string(conn.Provider), "export", "create").Inc()
}

// forEachTarget resolves the bidirectional synced calendars of the event's
// local calendar that belong to an active connection and invokes fn per
// target with the owner's timezone.
func (h *localChangeHooks) forEachTarget(ctx context.Context, event *entity.Event, fn func(provider.Adapter, *entity.SyncConnection, *entity.SyncedCalendar, string)) {
	cals, err := h.syncedCal.FindBidirectionalByLocalCalendar(ctx, event.CalendarID)
	if err != nil {
		h.logHookError(ctx, "failed to list synced calendars", event.ID, err)

		return
	}

	for _, cal := range cals {
		conn, err := h.connRepo.FindByID(ctx, cal.ConnectionID)
		if err != nil {
			h.logHookError(ctx, "failed to load connection", event.ID, err)

			continue
		}
		if conn.Status != entity.ConnectionActive {
			continue
		}
		adapter, ok := h.adapters[conn.Provider]
		if !ok {
			continue
		}

		userTZ := ""
		if user, err := h.userRepo.FindByID(ctx, conn.UserID); err == nil {
			userTZ = user.Timezone
		}

		fn(adapter, conn, cal, userTZ)
	}
}

func (h *localChangeHooks) logHookError(ctx context.Context, msg string, eventID uuid.UUID, err error) {
	h.logger.ErrorContext(ctx, msg,
		slog.String("localEventId", eventID.String()),
		slog.String("error", err.Error()))
}
