package impl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"calsync/config"
	"calsync/internal/domain/entity"
	"calsync/internal/domain/provider"
	"calsync/internal/domain/repository"
	"calsync/internal/domain/service"
	"calsync/internal/infra/metrics"
	"calsync/internal/usecase"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/fx"
)

var (
	// ErrNoActiveConnection is returned when a user-initiated sync action
	// finds no active connection to operate on.
	ErrNoActiveConnection = errors.New("no active sync connection")
	// ErrUnsupportedProvider is returned for provider names outside the
	// supported set.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

type syncService struct {
	connRepo    repository.ConnectionRepository
	syncedCal   repository.SyncedCalendarRepository
	calendarRep repository.CalendarRepository
	tokens      service.TokenManager
	adapters    map[entity.Provider]provider.Adapter
	reconciler  *reconciler
	metrics     *metrics.Metrics
	logger      *slog.Logger
	syncCfg     *config.SyncConfig

	// inFlight is the best-effort single-flight set: connection ids with a
	// reconciliation pass currently running in this process.
	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

// SyncServiceParams holds dependencies for SyncService, injected by Fx.
type SyncServiceParams struct {
	fx.In

	ConnRepo     repository.ConnectionRepository
	SyncedCal    repository.SyncedCalendarRepository
	CalendarRepo repository.CalendarRepository
	MappingRepo  repository.EventMappingRepository
	EventRepo    repository.EventRepository
	UserRepo     repository.UserRepository
	Tokens       service.TokenManager
	Adapters     []provider.Adapter `group:"providers"`
	RuleTrigger  service.RuleTrigger `optional:"true"`
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Config       *config.Config
}

// NewSyncService creates the sync orchestrator.
func NewSyncService(params SyncServiceParams) usecase.SyncUsecase {
	adapters := make(map[entity.Provider]provider.Adapter, len(params.Adapters))
	for _, adapter := range params.Adapters {
		adapters[adapter.Provider()] = adapter
	}

	return &syncService{
		connRepo:    params.ConnRepo,
		syncedCal:   params.SyncedCal,
		calendarRep: params.CalendarRepo,
		tokens:      params.Tokens,
		adapters:    adapters,
		reconciler: &reconciler{
			adapters:    adapters,
			syncedCal:   params.SyncedCal,
			mappingRepo: params.MappingRepo,
			eventRepo:   params.EventRepo,
			userRepo:    params.UserRepo,
			ruleTrigger: params.RuleTrigger,
			metrics:     params.Metrics,
			logger:      params.Logger,
			syncCfg:     params.Config.Sync,
		},
		metrics:  params.Metrics,
		logger:   params.Logger,
		syncCfg:  params.Config.Sync,
		inFlight: make(map[uuid.UUID]struct{}),
	}
}

// AuthorizationURL builds the provider consent URL for a user.
func (s *syncService) AuthorizationURL(_ context.Context, userID uuid.UUID, prov entity.Provider) (string, error) {
	if !prov.Valid() {
		return "", ErrUnsupportedProvider
	}

	return s.tokens.AuthorizationURL(prov, userID)
}

// CompleteOAuth verifies the callback state, exchanges the code, and upserts
// the user's connection, keeping at most one active connection per
// (user, provider) pair. A successful re-auth restores an errored connection.
func (s *syncService) CompleteOAuth(ctx context.Context, prov entity.Provider, code, state string) error {
	if !prov.Valid() {
		return ErrUnsupportedProvider
	}

	userID, err := s.tokens.ParseState(state)
	if err != nil {
		return errors.Wrap(err, "invalid oauth state")
	}

	grant, err := s.tokens.Exchange(ctx, prov, code)
	if err != nil {
		return err
	}

	conn, err := s.connRepo.FindByUserAndProvider(ctx, userID, prov)
	switch {
	case errors.Is(err, repository.ErrConnectionNotFound):
		conn = &entity.SyncConnection{
			ID:                uuid.New(),
			UserID:            userID,
			Provider:          prov,
			ProviderAccountID: grant.ProviderAccountID,
			AccessToken:       grant.AccessToken,
			RefreshToken:      grant.RefreshToken,
			TokenExpiresAt:    time.Unix(grant.ExpiresAt, 0),
			Status:            entity.ConnectionActive,
		}
		if err := s.connRepo.Create(ctx, conn); err != nil {
			return errors.Wrap(err, "failed to create connection")
		}
	case err != nil:
		return errors.Wrap(err, "failed to load connection")
	default:
		conn.ProviderAccountID = grant.ProviderAccountID
		conn.AccessToken = grant.AccessToken
		if grant.RefreshToken != "" {
			conn.RefreshToken = grant.RefreshToken
		}
		conn.TokenExpiresAt = time.Unix(grant.ExpiresAt, 0)
		conn.Status = entity.ConnectionActive
		if err := s.connRepo.Update(ctx, conn); err != nil {
			return errors.Wrap(err, "failed to update connection")
		}
	}

	s.logger.InfoContext(ctx, "sync connection established",
		slog.String("userId", userID.String()),
		slog.String("provider", string(prov)))

	return nil
}

// ListExternalCalendars fetches the calendars available on the user's active
// connection to the provider.
func (s *syncService) ListExternalCalendars(ctx context.Context, userID uuid.UUID, prov entity.Provider) ([]provider.ExternalCalendar, error) {
	conn, err := s.activeConnection(ctx, userID, prov)
	if err != nil {
		return nil, err
	}

	adapter, ok := s.adapters[prov]
	if !ok {
		return nil, ErrUnsupportedProvider
	}
	conn = s.tokens.EnsureFresh(ctx, conn)

	return adapter.ListCalendars(ctx, conn)
}

// ConnectCalendars enables sync for the selected external calendars.
// Idempotent: re-selecting an already-synced calendar updates its
// bidirectional flag and renames the local mirror when the name changed.
func (s *syncService) ConnectCalendars(ctx context.Context, userID uuid.UUID, prov entity.Provider, selections []usecase.CalendarSelection) error {
	conn, err := s.activeConnection(ctx, userID, prov)
	if err != nil {
		return err
	}

	for _, sel := range selections {
		existing, err := s.syncedCal.FindByConnectionAndExternalID(ctx, conn.ID, sel.ExternalID)
		switch {
		case errors.Is(err, repository.ErrSyncedCalendarNotFound):
			if err := s.createSyncedCalendar(ctx, conn, sel); err != nil {
				return err
			}
		case err != nil:
			return errors.Wrap(err, "failed to look up synced calendar")
		default:
			if err := s.updateSyncedCalendar(ctx, existing, sel); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *syncService) createSyncedCalendar(ctx context.Context, conn *entity.SyncConnection, sel usecase.CalendarSelection) error {
	mirror := &entity.Calendar{
		ID:       uuid.New(),
		OwnerID:  conn.UserID,
		Name:     sel.Name,
		IsMirror: true,
	}
	if err := s.calendarRep.Create(ctx, mirror); err != nil {
		return errors.Wrap(err, "failed to create mirror calendar")
	}

	cal := &entity.SyncedCalendar{
		ID:              uuid.New(),
		ConnectionID:    conn.ID,
		LocalCalendarID: mirror.ID,
		ExternalID:      sel.ExternalID,
		ExternalName:    sel.Name,
		Bidirectional:   sel.Bidirectional,
	}
	if err := s.syncedCal.Create(ctx, cal); err != nil {
		return errors.Wrap(err, "failed to create synced calendar")
	}

	return nil
}

func (s *syncService) updateSyncedCalendar(ctx context.Context, cal *entity.SyncedCalendar, sel usecase.CalendarSelection) error {
	if sel.Name != "" && sel.Name != cal.ExternalName {
		if err := s.calendarRep.Rename(ctx, cal.LocalCalendarID, sel.Name); err != nil {
			return errors.Wrap(err, "failed to rename mirror calendar")
		}
		cal.ExternalName = sel.Name
	}
	cal.Bidirectional = sel.Bidirectional

	return errors.Wrap(s.syncedCal.Update(ctx, cal), "failed to update synced calendar")
}

// ForceSync runs reconciliation for every active connection of the user,
// bypassing the minimum-interval gate.
func (s *syncService) ForceSync(ctx context.Context, userID uuid.UUID) error {
	conns, err := s.connRepo.FindActiveByUser(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "failed to list active connections")
	}
	if len(conns) == 0 {
		return ErrNoActiveConnection
	}

	for _, conn := range conns {
		s.syncOne(ctx, conn)
	}

	return nil
}

// Tick runs reconciliation for every active connection whose last sync is
// older than the poll interval.
func (s *syncService) Tick(ctx context.Context) error {
	cutoff := time.Now().Add(-s.syncCfg.PollInterval)
	conns, err := s.connRepo.FindDueForSync(ctx, cutoff)
	if err != nil {
		return errors.Wrap(err, "failed to list connections due for sync")
	}

	for _, conn := range conns {
		s.syncOne(ctx, conn)
	}

	return nil
}

// syncOne runs one reconciliation pass for a connection under the
// single-flight guard. A concurrent pass already holding the lock causes an
// immediate, silent return; sync is idempotent and reruns on the next tick.
func (s *syncService) syncOne(ctx context.Context, conn *entity.SyncConnection) {
	if !s.tryLock(conn.ID) {
		s.logger.InfoContext(ctx, "sync already in flight, skipping",
			slog.String("connectionId", conn.ID.String()))

		return
	}
	defer s.unlock(conn.ID)

	start := time.Now()
	conn = s.tokens.EnsureFresh(ctx, conn)

	err := s.reconciler.syncConnection(ctx, conn)
	s.metrics.SyncDuration.WithLabelValues(string(conn.Provider)).Observe(time.Since(start).Seconds())

	if err != nil {
		s.metrics.SyncRuns.WithLabelValues(string(conn.Provider), "error").Inc()
		s.logger.ErrorContext(ctx, "connection sync failed",
			slog.String("connectionId", conn.ID.String()),
			slog.String("provider", string(conn.Provider)),
			slog.String("error", err.Error()))

		// Provider auth failure parks the connection in Error until the user
		// re-authenticates; other failures retry on the next tick.
		var provErr *provider.Error
		if errors.As(err, &provErr) && provErr.IsAuthError() {
			if statusErr := s.connRepo.UpdateStatus(ctx, conn.ID, entity.ConnectionError); statusErr != nil {
				s.logger.ErrorContext(ctx, "failed to mark connection errored",
					slog.String("connectionId", conn.ID.String()),
					slog.String("error", statusErr.Error()))
			}
		}

		return
	}

	s.metrics.SyncRuns.WithLabelValues(string(conn.Provider), "success").Inc()
	if err := s.connRepo.MarkSynced(ctx, conn.ID, time.Now()); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark connection synced",
			slog.String("connectionId", conn.ID.String()),
			slog.String("error", err.Error()))
	}
}

func (s *syncService) tryLock(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}

	return true
}

func (s *syncService) unlock(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// Disconnect clears tokens and removes the synced calendars, their mappings,
// and the local mirror calendars. An empty provider disconnects everything.
func (s *syncService) Disconnect(ctx context.Context, userID uuid.UUID, prov entity.Provider) error {
	var conns []*entity.SyncConnection
	if prov != "" {
		if !prov.Valid() {
			return ErrUnsupportedProvider
		}
		conn, err := s.connRepo.FindByUserAndProvider(ctx, userID, prov)
		if err != nil {
			if errors.Is(err, repository.ErrConnectionNotFound) {
				return ErrNoActiveConnection
			}

			return errors.Wrap(err, "failed to load connection")
		}
		conns = append(conns, conn)
	} else {
		active, err := s.connRepo.FindActiveByUser(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "failed to list active connections")
		}
		if len(active) == 0 {
			return ErrNoActiveConnection
		}
		conns = active
	}

	for _, conn := range conns {
		if err := s.disconnectOne(ctx, conn); err != nil {
			return err
		}
	}

	return nil
}

func (s *syncService) disconnectOne(ctx context.Context, conn *entity.SyncConnection) error {
	cals, err := s.syncedCal.FindByConnection(ctx, conn.ID)
	if err != nil {
		return errors.Wrap(err, "failed to list synced calendars")
	}

	for _, cal := range cals {
		mirror, err := s.calendarRep.FindByID(ctx, cal.LocalCalendarID)
		if err != nil {
			if errors.Is(err, repository.ErrCalendarNotFound) {
				continue
			}

			return errors.Wrap(err, "failed to load mirror calendar")
		}
		// Only engine-created mirrors are removed; a user calendar mapped
		// for bidirectional sync stays.
		if !mirror.IsMirror {
			continue
		}
		if err := s.calendarRep.Delete(ctx, mirror.ID); err != nil {
			return errors.Wrap(err, "failed to delete mirror calendar")
		}
	}

	if err := s.syncedCal.DeleteByConnection(ctx, conn.ID); err != nil {
		return errors.Wrap(err, "failed to delete synced calendars")
	}

	// Tokens are cleared, not merely flagged.
	conn.AccessToken = ""
	conn.RefreshToken = ""
	conn.Status = entity.ConnectionInactive
	if err := s.connRepo.Update(ctx, conn); err != nil {
		return errors.Wrap(err, "failed to deactivate connection")
	}

	s.logger.InfoContext(ctx, "sync connection disconnected",
		slog.String("connectionId", conn.ID.String()),
		slog.String("provider", string(conn.Provider)))

	return nil
}

// Status reports the user's connections and their synced calendars.
func (s *syncService) Status(ctx context.Context, userID uuid.UUID) ([]usecase.ConnectionStatus, error) {
	statuses := make([]usecase.ConnectionStatus, 0, 2)
	for _, prov := range []entity.Provider{entity.ProviderGoogle, entity.ProviderMicrosoft} {
		conn, err := s.connRepo.FindByUserAndProvider(ctx, userID, prov)
		if err != nil {
			if errors.Is(err, repository.ErrConnectionNotFound) {
				continue
			}

			return nil, errors.Wrap(err, "failed to load connection")
		}

		cals, err := s.syncedCal.FindByConnection(ctx, conn.ID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to list synced calendars")
		}

		status := usecase.ConnectionStatus{
			Provider:   conn.Provider,
			Status:     conn.Status,
			AccountID:  conn.ProviderAccountID,
			LastSyncAt: conn.LastSyncAt,
			Calendars:  make([]usecase.SyncedCalendarStatus, 0, len(cals)),
		}
		for _, cal := range cals {
			status.Calendars = append(status.Calendars, usecase.SyncedCalendarStatus{
				ExternalID:    cal.ExternalID,
				Name:          cal.ExternalName,
				Bidirectional: cal.Bidirectional,
				LastSyncAt:    cal.LastSyncAt,
			})
		}
		statuses = append(statuses, status)
	}

	return statuses, nil
}

func (s *syncService) activeConnection(ctx context.Context, userID uuid.UUID, prov entity.Provider) (*entity.SyncConnection, error) {
	if !prov.Valid() {
		return nil, ErrUnsupportedProvider
	}

	conn, err := s.connRepo.FindByUserAndProvider(ctx, userID, prov)
	if err != nil {
		if errors.Is(err, repository.ErrConnectionNotFound) {
			return nil, ErrNoActiveConnection
		}

		return nil, errors.Wrap(err, "failed to load connection")
	}
	if conn.Status != entity.ConnectionActive {
		return nil, ErrNoActiveConnection
	}

	return conn, nil
}
