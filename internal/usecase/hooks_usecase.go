package usecase

import (
	"context"

	"calsync/internal/domain/entity"
)

// LocalChangeHooks is called by the event CRUD service after it commits a
// local write. Propagation to external providers is fire-and-forget: failures
// are logged and swallowed, never surfaced to the caller.
type LocalChangeHooks interface {
	// OnLocalEventCreated pushes a newly created local event to every
	// bidirectional synced calendar of its local calendar.
	OnLocalEventCreated(ctx context.Context, event *entity.Event)

	// OnLocalEventUpdated pushes a local edit when it is newer than both
	// last-reconciled timestamps of the existing mapping.
	OnLocalEventUpdated(ctx context.Context, event *entity.Event)

	// OnLocalEventDeleted removes the external counterpart and the mapping.
	OnLocalEventDeleted(ctx context.Context, event *entity.Event)
}
