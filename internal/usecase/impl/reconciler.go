package impl

import (
	"context"
	"log/slog"
	"time"

	"calsync/config"
	"calsync/internal/domain/entity"
	"calsync/internal/domain/provider"
	"calsync/internal/domain/repository"
	"calsync/internal/domain/service"
	"calsync/internal/infra/metrics"
	"calsync/internal/infra/timezone"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// reconciler runs the core diff/apply algorithm for one connection. All
// per-calendar and per-event failures are logged and contained; nothing in
// the reconciliation loop is fatal.
type reconciler struct {
	adapters    map[entity.Provider]provider.Adapter
	syncedCal   repository.SyncedCalendarRepository
	mappingRepo repository.EventMappingRepository
	eventRepo   repository.EventRepository
	userRepo    repository.UserRepository
	ruleTrigger service.RuleTrigger
	metrics     *metrics.Metrics
	logger      *slog.Logger
	syncCfg     *config.SyncConfig
}

// syncConnection reconciles every synced calendar of the connection. A
// failing calendar is logged and skipped; the others proceed. The returned
// error reports only auth failures that should flip the connection to Error.
func (r *reconciler) syncConnection(ctx context.Context, conn *entity.SyncConnection) error {
	adapter, ok := r.adapters[conn.Provider]
	if !ok {
		return errors.Errorf("no adapter registered for provider %q", conn.Provider)
	}

	cals, err := r.syncedCal.FindByConnection(ctx, conn.ID)
	if err != nil {
		return errors.Wrap(err, "failed to load synced calendars")
	}

	userTZ := ""
	if user, err := r.userRepo.FindByID(ctx, conn.UserID); err == nil {
		userTZ = user.Timezone
	} else {
		r.logger.WarnContext(ctx, "failed to resolve user timezone, falling back to UTC",
			slog.String("userId", conn.UserID.String()),
			slog.String("error", err.Error()))
	}

	var authErr error
	for _, cal := range cals {
		if err := r.syncCalendar(ctx, adapter, conn, cal, userTZ); err != nil {
			r.metrics.CalendarFailures.WithLabelValues(string(conn.Provider)).Inc()
			r.logger.ErrorContext(ctx, "calendar sync failed",
				slog.String("connectionId", conn.ID.String()),
				slog.String("syncedCalendarId", cal.ID.String()),
				slog.String("externalCalendarId", cal.ExternalID),
				slog.String("error", err.Error()))

			var provErr *provider.Error
			if errors.As(err, &provErr) && provErr.IsAuthError() {
				authErr = err
			}
		}
	}

	return authErr
}

// syncCalendar performs one reconciliation pass for a single calendar:
// deletions, then imports with the newer-than-both tie-break, then the
// bidirectional push, then cursor persistence.
func (r *reconciler) syncCalendar(ctx context.Context, adapter provider.Adapter, conn *entity.SyncConnection, cal *entity.SyncedCalendar, userTZ string) error {
	now := time.Now()
	opts := provider.FetchOptions{
		Cursor:       cal.Cursor,
		WindowStart:  now.AddDate(0, 0, -r.syncCfg.LookbackDays),
		WindowEnd:    now.AddDate(0, 0, r.syncCfg.LookaheadDays),
		UserTimezone: userTZ,
	}

	result, err := adapter.FetchEvents(ctx, conn, cal.ExternalID, opts)
	if errors.Is(err, provider.ErrCursorExpired) && opts.Cursor != "" {
		// Expired cursor: retry exactly once as a full-window fetch.
		r.metrics.CursorResets.WithLabelValues(string(conn.Provider)).Inc()
		r.logger.InfoContext(ctx, "incremental cursor expired, falling back to full fetch",
			slog.String("syncedCalendarId", cal.ID.String()))
		opts.Cursor = ""
		// Drop the stored cursor too: if the full fetch yields no replacement,
		// the next cycle must not replay the expired one.
		cal.Cursor = ""
		result, err = adapter.FetchEvents(ctx, conn, cal.ExternalID, opts)
	}
	if err != nil {
		return errors.Wrap(err, "failed to fetch external events")
	}

	mappings, err := r.mappingRepo.FindBySyncedCalendar(ctx, cal.ID)
	if err != nil {
		return errors.Wrap(err, "failed to load event mappings")
	}
	byExternal := make(map[string]*entity.EventMapping, len(mappings))
	byLocal := make(map[uuid.UUID]*entity.EventMapping, len(mappings))
	for _, mapping := range mappings {
		byExternal[mapping.ExternalEventID] = mapping
		byLocal[mapping.LocalEventID] = mapping
	}

	// Local event ids written during the import phase; the push phase skips
	// them so an import is not immediately echoed back out.
	touched := make(map[uuid.UUID]struct{})

	r.applyExternalDeletions(ctx, conn, cal, result.DeletedIDs, byExternal, byLocal)
	r.applyExternalUpserts(ctx, conn, cal, result.Events, byExternal, byLocal, touched)

	if cal.Bidirectional {
		r.pushLocalChanges(ctx, adapter, conn, cal, userTZ, opts, byLocal, touched)
	}

	if result.NextCursor != "" {
		cal.Cursor = result.NextCursor
	}
	if err := r.syncedCal.UpdateCursor(ctx, cal.ID, cal.Cursor, time.Now()); err != nil {
		return errors.Wrap(err, "failed to persist sync cursor")
	}

	return nil
}

// applyExternalDeletions removes local events whose external counterparts
// were deleted. Deletions run before creates/updates.
func (r *reconciler) applyExternalDeletions(ctx context.Context, conn *entity.SyncConnection, cal *entity.SyncedCalendar, deletedIDs []string, byExternal map[string]*entity.EventMapping, byLocal map[uuid.UUID]*entity.EventMapping) {
	for _, externalID := range deletedIDs {
		mapping, ok := byExternal[externalID]
		if !ok {
			continue
		}

		if err := r.eventRepo.Delete(ctx, mapping.LocalEventID); err != nil {
			r.logger.ErrorContext(ctx, "failed to delete local event for external deletion",
				slog.String("localEventId", mapping.LocalEventID.String()),
				slog.String("externalEventId", externalID),
				slog.String("error", err.Error()))

			continue
		}
		if err := r.mappingRepo.Delete(ctx, mapping.ID); err != nil {
			r.logger.ErrorContext(ctx, "failed to delete event mapping",
				slog.String("mappingId", mapping.ID.String()),
				slog.String("error", err.Error()))

			continue
		}

		delete(byExternal, externalID)
		delete(byLocal, mapping.LocalEventID)
		r.metrics.EventsApplied.WithLabelValues(string(conn.Provider), "import", "delete").Inc()
	}
}

// applyExternalUpserts imports external creates and edits. Unmapped events
// become new local events; mapped ones are overwritten only when the external
// modification instant is newer than both stored timestamps.
func (r *reconciler) applyExternalUpserts(ctx context.Context, conn *entity.SyncConnection, cal *entity.SyncedCalendar, events []provider.ExternalEvent, byExternal map[string]*entity.EventMapping, byLocal map[uuid.UUID]*entity.EventMapping, touched map[uuid.UUID]struct{}) {
	for i := range events {
		ext := &events[i]
		mapping, ok := byExternal[ext.ID]
		if !ok {
			r.importNewEvent(ctx, conn, cal, ext, byExternal, byLocal, touched)

			continue
		}

		if !newerThanBoth(ext.Canonical.LastModified, mapping.LastModifiedExternal, mapping.LastModifiedLocal) {
			continue
		}

		event, err := r.eventRepo.FindByID(ctx, mapping.LocalEventID)
		if err != nil {
			if errors.Is(err, repository.ErrEventNotFound) {
				// Deleted locally; the push phase propagates the deletion.
				continue
			}
			r.logger.ErrorContext(ctx, "failed to load local event for import",
				slog.String("localEventId", mapping.LocalEventID.String()),
				slog.String("error", err.Error()))

			continue
		}

		applyCanonical(event, &ext.Canonical)
		if err := r.eventRepo.Update(ctx, event); err != nil {
			r.logger.ErrorContext(ctx, "failed to apply external edit",
				slog.String("localEventId", event.ID.String()),
				slog.String("externalEventId", ext.ID),
				slog.String("error", err.Error()))

			continue
		}
		if err := r.mappingRepo.Touch(ctx, mapping.ID, ext.Canonical.LastModified, mapping.LastModifiedLocal); err != nil {
			r.logger.ErrorContext(ctx, "failed to touch event mapping",
				slog.String("mappingId", mapping.ID.String()),
				slog.String("error", err.Error()))
		}
		mapping.LastModifiedExternal = ext.Canonical.LastModified
		touched[event.ID] = struct{}{}
		r.metrics.EventsApplied.WithLabelValues(string(conn.Provider), "import", "update").Inc()
	}
}

// importNewEvent creates a local event plus its mapping. A duplicate-mapping
// race is resolved by discarding the just-created local event.
func (r *reconciler) importNewEvent(ctx context.Context, conn *entity.SyncConnection, cal *entity.SyncedCalendar, ext *provider.ExternalEvent, byExternal map[string]*entity.EventMapping, byLocal map[uuid.UUID]*entity.EventMapping, touched map[uuid.UUID]struct{}) {
	event := eventFromCanonical(cal.LocalCalendarID, &ext.Canonical)
	if ext.Canonical.RecurringEventID != "" {
		if parent, ok := byExternal[ext.Canonical.RecurringEventID]; ok {
			parentID := parent.LocalEventID
			event.RecurrenceParentID = &parentID
		}
	}

	if err := r.eventRepo.Create(ctx, event); err != nil {
		r.logger.ErrorContext(ctx, "failed to create local event from import",
			slog.String("externalEventId", ext.ID),
			slog.String("error", err.Error()))

		return
	}

	now := time.Now()
	mapping := &entity.EventMapping{
		ID:                   uuid.New(),
		SyncedCalendarID:     cal.ID,
		ExternalEventID:      ext.ID,
		LocalEventID:         event.ID,
		LastModifiedExternal: now,
		LastModifiedLocal:    now,
	}
	if err := r.mappingRepo.Create(ctx, mapping); err != nil {
		if errors.Is(err, repository.ErrDuplicateMapping) {
			// A concurrent pass already imported this event; discard ours.
			if delErr := r.eventRepo.Delete(ctx, event.ID); delErr != nil {
				r.logger.ErrorContext(ctx, "failed to discard duplicate import",
					slog.String("localEventId", event.ID.String()),
					slog.String("error", delErr.Error()))
			}

			return
		}
		r.logger.ErrorContext(ctx, "failed to create event mapping",
			slog.String("externalEventId", ext.ID),
			slog.String("error", err.Error()))

		return
	}

	byExternal[ext.ID] = mapping
	byLocal[event.ID] = mapping
	touched[event.ID] = struct{}{}
	r.metrics.EventsApplied.WithLabelValues(string(conn.Provider), "import", "create").Inc()

	if r.ruleTrigger != nil {
		if err := r.ruleTrigger.TriggerRules(ctx, event.ID, conn.UserID, service.TriggerEventImported, nil); err != nil {
			r.logger.WarnContext(ctx, "rule trigger failed for imported event",
				slog.String("eventId", event.ID.String()),
				slog.String("error", err.Error()))
		}
	}
}

// pushLocalChanges exports local creates, edits, and deletions to the
// provider. Only events untouched by this cycle's import phase and concrete
// recurrence instances (never templates) are considered.
func (r *reconciler) pushLocalChanges(ctx context.Context, adapter provider.Adapter, conn *entity.SyncConnection, cal *entity.SyncedCalendar, userTZ string, opts provider.FetchOptions, byLocal map[uuid.UUID]*entity.EventMapping, touched map[uuid.UUID]struct{}) {
	loc := timezone.UserLocation(userTZ)
	from := opts.WindowStart.In(loc).Format(timezone.DateLayout)
	to := opts.WindowEnd.In(loc).Format(timezone.DateLayout)

	locals, err := r.eventRepo.FindInWindow(ctx, cal.LocalCalendarID, from, to)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to load local events for push",
			slog.String("localCalendarId", cal.LocalCalendarID.String()),
			slog.String("error", err.Error()))

		return
	}

	seen := make(map[uuid.UUID]struct{}, len(locals))
	for _, event := range locals {
		seen[event.ID] = struct{}{}
		if event.IsTemplate {
			continue
		}
		if _, ok := touched[event.ID]; ok {
			continue
		}

		mapping, ok := byLocal[event.ID]
		if !ok {
			r.exportNewEvent(ctx, adapter, conn, cal, event, userTZ, byLocal)

			continue
		}

		if !newerThanBoth(event.UpdatedAt, mapping.LastModifiedExternal, mapping.LastModifiedLocal) {
			continue
		}

		if err := adapter.UpdateEvent(ctx, conn, cal.ExternalID, mapping.ExternalEventID, canonicalFromEvent(event, userTZ)); err != nil {
			// Mapping left unchanged so the next cycle retries.
			r.logger.ErrorContext(ctx, "failed to push local edit",
				slog.String("localEventId", event.ID.String()),
				slog.String("externalEventId", mapping.ExternalEventID),
				slog.String("error", err.Error()))

			continue
		}
		if err := r.mappingRepo.Touch(ctx, mapping.ID, mapping.LastModifiedExternal, event.UpdatedAt); err != nil {
			r.logger.ErrorContext(ctx, "failed to touch event mapping",
				slog.String("mappingId", mapping.ID.String()),
				slog.String("error", err.Error()))
		}
		mapping.LastModifiedLocal = event.UpdatedAt
		r.metrics.EventsApplied.WithLabelValues(string(conn.Provider), "export", "update").Inc()
	}

	// Mappings whose local event no longer exists propagate as external
	// deletions. Events merely outside the window are left alone.
	for localID, mapping := range byLocal {
		if _, ok := seen[localID]; ok {
			continue
		}
		if _, err := r.eventRepo.FindByID(ctx, localID); !errors.Is(err, repository.ErrEventNotFound) {
			continue
		}

		if err := adapter.DeleteEvent(ctx, conn, cal.ExternalID, mapping.ExternalEventID); err != nil {
			r.logger.ErrorContext(ctx, "failed to delete external event",
				slog.String("externalEventId", mapping.ExternalEventID),
				slog.String("error", err.Error()))

			continue
		}
		if err := r.mappingRepo.Delete(ctx, mapping.ID); err != nil {
			r.logger.ErrorContext(ctx, "failed to delete event mapping",
				slog.String("mappingId", mapping.ID.String()),
				slog.String("error", err.Error()))

			continue
		}
		delete(byLocal, localID)
		r.metrics.EventsApplied.WithLabelValues(string(conn.Provider), "export", "delete").Inc()
	}
}

// exportNewEvent creates the external counterpart of an unmapped local event.
func (r *reconciler) exportNewEvent(ctx context.Context, adapter provider.Adapter, conn *entity.SyncConnection, cal *entity.SyncedCalendar, event *entity.Event, userTZ string, byLocal map[uuid.UUID]*entity.EventMapping) {
	externalID, err := adapter.CreateEvent(ctx, conn, cal.ExternalID, canonicalFromEvent(event, userTZ))
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to create external event",
			slog.String("localEventId", event.ID.String()),
			slog.String("error", err.Error()))

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
	if err := r.mappingRepo.Create(ctx, mapping); err != nil {
		r.logger.ErrorContext(ctx, "failed to create event mapping for export",
			slog.String("localEventId", event.ID.String()),
			slog.String("externalEventId", externalID),
			slog.String("error", err.Error()))

		return
	}

	byLocal[event.ID] = mapping
	r.metrics.EventsApplied.WithLabelValues(string(conn.Provider), "export", "create").Inc()
}
