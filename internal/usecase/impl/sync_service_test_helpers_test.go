package impl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
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
	"github.com/prometheus/client_golang/prometheus"
)

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func newTestConfig() *config.Config {
	return &config.Config{
		Sync: &config.SyncConfig{
			LookbackDays:  90,
			LookaheadDays: 365,
			PollInterval:  5 * time.Minute,
		},
	}
}

// memConnRepo is an in-memory ConnectionRepository. Reads return copies so
// writes only take effect through the repository methods.
type memConnRepo struct {
	mu    sync.Mutex
	conns map[uuid.UUID]*entity.SyncConnection
}

func newMemConnRepo() *memConnRepo {
	return &memConnRepo{conns: make(map[uuid.UUID]*entity.SyncConnection)}
}

func (r *memConnRepo) put(conn *entity.SyncConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *conn
	r.conns[conn.ID] = &cp
}

func (r *memConnRepo) get(id uuid.UUID) *entity.SyncConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		cp := *conn

		return &cp
	}

	return nil
}

func (r *memConnRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.SyncConnection, error) {
	if conn := r.get(id); conn != nil {
		return conn, nil
	}

	return nil, repository.ErrConnectionNotFound
}

func (r *memConnRepo) FindByUserAndProvider(_ context.Context, userID uuid.UUID, prov entity.Provider) (*entity.SyncConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns {
		if conn.UserID == userID && conn.Provider == prov {
			cp := *conn

			return &cp, nil
		}
	}

	return nil, repository.ErrConnectionNotFound
}

func (r *memConnRepo) FindActiveByUser(_ context.Context, userID uuid.UUID) ([]*entity.SyncConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.SyncConnection
	for _, conn := range r.conns {
		if conn.UserID == userID && conn.Status == entity.ConnectionActive {
			cp := *conn
			out = append(out, &cp)
		}
	}

	return out, nil
}

func (r *memConnRepo) FindDueForSync(_ context.Context, cutoff time.Time) ([]*entity.SyncConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.SyncConnection
	for _, conn := range r.conns {
		if conn.Status != entity.ConnectionActive {
			continue
		}
		if conn.LastSyncAt == nil || conn.LastSyncAt.Before(cutoff) {
			cp := *conn
			out = append(out, &cp)
		}
	}

	return out, nil
}

func (r *memConnRepo) Create(_ context.Context, conn *entity.SyncConnection) error {
	r.put(conn)

	return nil
}

func (r *memConnRepo) Update(_ context.Context, conn *entity.SyncConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn.ID]; !ok {
		return repository.ErrConnectionNotFound
	}
	cp := *conn
	r.conns[conn.ID] = &cp

	return nil
}

func (r *memConnRepo) UpdateTokens(_ context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return repository.ErrConnectionNotFound
	}
	conn.AccessToken = accessToken
	if refreshToken != "" {
		conn.RefreshToken = refreshToken
	}
	conn.TokenExpiresAt = expiresAt

	return nil
}

func (r *memConnRepo) UpdateStatus(_ context.Context, id uuid.UUID, status entity.ConnectionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return repository.ErrConnectionNotFound
	}
	conn.Status = status

	return nil
}

func (r *memConnRepo) MarkSynced(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return repository.ErrConnectionNotFound
	}
	conn.LastSyncAt = &at

	return nil
}

// memMappingRepo is an in-memory EventMappingRepository enforcing the same
// uniqueness the database schema does.
type memMappingRepo struct {
	mu       sync.Mutex
	mappings map[uuid.UUID]*entity.EventMapping
}

func newMemMappingRepo() *memMappingRepo {
	return &memMappingRepo{mappings: make(map[uuid.UUID]*entity.EventMapping)}
}

func (r *memMappingRepo) FindBySyncedCalendar(_ context.Context, syncedCalendarID uuid.UUID) ([]*entity.EventMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.EventMapping
	for _, m := range r.mappings {
		if m.SyncedCalendarID == syncedCalendarID {
			cp := *m
			out = append(out, &cp)
		}
	}

	return out, nil
}

func (r *memMappingRepo) FindByLocalEvent(_ context.Context, syncedCalendarID, localEventID uuid.UUID) (*entity.EventMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mappings {
		if m.SyncedCalendarID == syncedCalendarID && m.LocalEventID == localEventID {
			cp := *m

			return &cp, nil
		}
	}

	return nil, repository.ErrMappingNotFound
}

func (r *memMappingRepo) Create(_ context.Context, mapping *entity.EventMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mappings {
		if m.SyncedCalendarID != mapping.SyncedCalendarID {
			continue
		}
		if m.ExternalEventID == mapping.ExternalEventID || m.LocalEventID == mapping.LocalEventID {
			return repository.ErrDuplicateMapping
		}
	}
	cp := *mapping
	r.mappings[mapping.ID] = &cp

	return nil
}

func (r *memMappingRepo) Touch(_ context.Context, id uuid.UUID, lastModifiedExternal, lastModifiedLocal time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mappings[id]
	if !ok {
		return repository.ErrMappingNotFound
	}
	m.LastModifiedExternal = lastModifiedExternal
	m.LastModifiedLocal = lastModifiedLocal

	return nil
}

func (r *memMappingRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mappings[id]; !ok {
		return repository.ErrMappingNotFound
	}
	delete(r.mappings, id)

	return nil
}

func (r *memMappingRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.mappings)
}

func (r *memMappingRepo) byExternalID(externalID string) *entity.EventMapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mappings {
		if m.ExternalEventID == externalID {
			cp := *m

			return &cp
		}
	}

	return nil
}

func (r *memMappingRepo) deleteBySyncedCalendar(syncedCalendarID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.mappings {
		if m.SyncedCalendarID == syncedCalendarID {
			delete(r.mappings, id)
		}
	}
}

// memSyncedCalRepo is an in-memory SyncedCalendarRepository that cascades
// deletion to mappings the way the schema's foreign keys do.
type memSyncedCalRepo struct {
	mu       sync.Mutex
	cals     map[uuid.UUID]*entity.SyncedCalendar
	mappings *memMappingRepo
}

func newMemSyncedCalRepo(mappings *memMappingRepo) *memSyncedCalRepo {
	return &memSyncedCalRepo{cals: make(map[uuid.UUID]*entity.SyncedCalendar), mappings: mappings}
}

func (r *memSyncedCalRepo) put(cal *entity.SyncedCalendar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *cal
	r.cals[cal.ID] = &cp
}

func (r *memSyncedCalRepo) get(id uuid.UUID) *entity.SyncedCalendar {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cal, ok := r.cals[id]; ok {
		cp := *cal

		return &cp
	}

	return nil
}

func (r *memSyncedCalRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.SyncedCalendar, error) {
	if cal := r.get(id); cal != nil {
		return cal, nil
	}

	return nil, repository.ErrSyncedCalendarNotFound
}

func (r *memSyncedCalRepo) FindByConnection(_ context.Context, connectionID uuid.UUID) ([]*entity.SyncedCalendar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.SyncedCalendar
	for _, cal := range r.cals {
		if cal.ConnectionID == connectionID {
			cp := *cal
			out = append(out, &cp)
		}
	}

	return out, nil
}

func (r *memSyncedCalRepo) FindByConnectionAndExternalID(_ context.Context, connectionID uuid.UUID, externalID string) (*entity.SyncedCalendar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cal := range r.cals {
		if cal.ConnectionID == connectionID && cal.ExternalID == externalID {
			cp := *cal

			return &cp, nil
		}
	}

	return nil, repository.ErrSyncedCalendarNotFound
}

func (r *memSyncedCalRepo) FindBidirectionalByLocalCalendar(_ context.Context, localCalendarID uuid.UUID) ([]*entity.SyncedCalendar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.SyncedCalendar
	for _, cal := range r.cals {
		if cal.LocalCalendarID == localCalendarID && cal.Bidirectional {
			cp := *cal
			out = append(out, &cp)
		}
	}

	return out, nil
}

func (r *memSyncedCalRepo) Create(_ context.Context, cal *entity.SyncedCalendar) error {
	r.put(cal)

	return nil
}

func (r *memSyncedCalRepo) Update(_ context.Context, cal *entity.SyncedCalendar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cals[cal.ID]; !ok {
		return repository.ErrSyncedCalendarNotFound
	}
	cp := *cal
	r.cals[cal.ID] = &cp

	return nil
}

func (r *memSyncedCalRepo) UpdateCursor(_ context.Context, id uuid.UUID, cursor string, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cal, ok := r.cals[id]
	if !ok {
		return repository.ErrSyncedCalendarNotFound
	}
	cal.Cursor = cursor
	cal.LastSyncAt = &syncedAt

	return nil
}

func (r *memSyncedCalRepo) DeleteByConnection(_ context.Context, connectionID uuid.UUID) error {
	r.mu.Lock()
	var removed []uuid.UUID
	for id, cal := range r.cals {
		if cal.ConnectionID == connectionID {
			removed = append(removed, id)
			delete(r.cals, id)
		}
	}
	r.mu.Unlock()

	for _, id := range removed {
		r.mappings.deleteBySyncedCalendar(id)
	}

	return nil
}

// memCalendarRepo is an in-memory CalendarRepository.
type memCalendarRepo struct {
	mu   sync.Mutex
	cals map[uuid.UUID]*entity.Calendar
}

func newMemCalendarRepo() *memCalendarRepo {
	return &memCalendarRepo{cals: make(map[uuid.UUID]*entity.Calendar)}
}

func (r *memCalendarRepo) put(cal *entity.Calendar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *cal
	r.cals[cal.ID] = &cp
}

func (r *memCalendarRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.Calendar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cal, ok := r.cals[id]; ok {
		cp := *cal

		return &cp, nil
	}

	return nil, repository.ErrCalendarNotFound
}

func (r *memCalendarRepo) Create(_ context.Context, cal *entity.Calendar) error {
	r.put(cal)

	return nil
}

func (r *memCalendarRepo) Rename(_ context.Context, id uuid.UUID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cal, ok := r.cals[id]
	if !ok {
		return repository.ErrCalendarNotFound
	}
	cal.Name = name

	return nil
}

func (r *memCalendarRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cals[id]; !ok {
		return repository.ErrCalendarNotFound
	}
	delete(r.cals, id)

	return nil
}

// memEventRepo is an in-memory EventRepository that counts writes so tests
// can assert a pass was a no-op.
type memEventRepo struct {
	mu      sync.Mutex
	events  map[uuid.UUID]*entity.Event
	creates int
	updates int
	deletes int
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{events: make(map[uuid.UUID]*entity.Event)}
}

func (r *memEventRepo) put(event *entity.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *event
	r.events[event.ID] = &cp
}

func (r *memEventRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event, ok := r.events[id]; ok {
		cp := *event

		return &cp, nil
	}

	return nil, repository.ErrEventNotFound
}

func (r *memEventRepo) FindInWindow(_ context.Context, calendarID uuid.UUID, from, to string) ([]*entity.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Event
	for _, event := range r.events {
		if event.CalendarID != calendarID {
			continue
		}
		if event.StartDate < from || event.StartDate > to {
			continue
		}
		cp := *event
		out = append(out, &cp)
	}

	return out, nil
}

func (r *memEventRepo) Create(_ context.Context, event *entity.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	cp := *event
	r.events[event.ID] = &cp

	return nil
}

func (r *memEventRepo) Update(_ context.Context, event *entity.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[event.ID]; !ok {
		return repository.ErrEventNotFound
	}
	r.updates++
	cp := *event
	r.events[event.ID] = &cp

	return nil
}

func (r *memEventRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[id]; !ok {
		return repository.ErrEventNotFound
	}
	r.deletes++
	delete(r.events, id)

	return nil
}

func (r *memEventRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.events)
}

func (r *memEventRepo) writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.creates + r.updates + r.deletes
}

func (r *memEventRepo) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, id)
}

// memUserRepo is an in-memory UserRepository.
type memUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*entity.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uuid.UUID]*entity.User)}
}

func (r *memUserRepo) put(user *entity.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	r.users[user.ID] = &cp
}

func (r *memUserRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		cp := *user

		return &cp, nil
	}

	return nil, repository.ErrUserNotFound
}

// fakeAdapter is an in-memory provider.Adapter recording every write.
type fakeAdapter struct {
	mu   sync.Mutex
	prov entity.Provider

	calendars []provider.ExternalCalendar
	listErr   error

	// fetch answers FetchEvents when set; otherwise an empty result.
	fetch      func(calendarID string, opts provider.FetchOptions) (*provider.FetchResult, error)
	fetchCalls []fetchCall

	createErr error
	updateErr error
	deleteErr error

	nextID  int
	created map[string]provider.CanonicalEvent
	updated map[string]provider.CanonicalEvent
	deleted []string
}

func newFakeAdapter(prov entity.Provider) *fakeAdapter {
	return &fakeAdapter{
		prov:    prov,
		created: make(map[string]provider.CanonicalEvent),
		updated: make(map[string]provider.CanonicalEvent),
	}
}

func (a *fakeAdapter) Provider() entity.Provider { return a.prov }

func (a *fakeAdapter) ListCalendars(context.Context, *entity.SyncConnection) ([]provider.ExternalCalendar, error) {
	return a.calendars, a.listErr
}

type fetchCall struct {
	calendarID string
	opts       provider.FetchOptions
}

func (a *fakeAdapter) FetchEvents(_ context.Context, _ *entity.SyncConnection, calendarID string, opts provider.FetchOptions) (*provider.FetchResult, error) {
	a.mu.Lock()
	a.fetchCalls = append(a.fetchCalls, fetchCall{calendarID: calendarID, opts: opts})
	fetch := a.fetch
	a.mu.Unlock()

	if fetch == nil {
		return &provider.FetchResult{}, nil
	}

	return fetch(calendarID, opts)
}

func (a *fakeAdapter) CreateEvent(_ context.Context, _ *entity.SyncConnection, _ string, ev *provider.CanonicalEvent) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return "", a.createErr
	}
	a.nextID++
	id := fmt.Sprintf("ext-%d", a.nextID)
	a.created[id] = *ev

	return id, nil
}

func (a *fakeAdapter) UpdateEvent(_ context.Context, _ *entity.SyncConnection, _ string, externalID string, ev *provider.CanonicalEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.updateErr != nil {
		return a.updateErr
	}
	a.updated[externalID] = *ev

	return nil
}

func (a *fakeAdapter) DeleteEvent(_ context.Context, _ *entity.SyncConnection, _ string, externalID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deleteErr != nil {
		return a.deleteErr
	}
	a.deleted = append(a.deleted, externalID)

	return nil
}

func (a *fakeAdapter) fetchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.fetchCalls)
}

// stubTokenManager satisfies service.TokenManager with canned answers.
type stubTokenManager struct {
	authURL     string
	stateUser   uuid.UUID
	stateErr    error
	grant       *service.TokenGrant
	exchangeErr error
	freshCalls  int
}

func (s *stubTokenManager) AuthorizationURL(entity.Provider, uuid.UUID) (string, error) {
	return s.authURL, nil
}

func (s *stubTokenManager) ParseState(string) (uuid.UUID, error) {
	return s.stateUser, s.stateErr
}

func (s *stubTokenManager) Exchange(context.Context, entity.Provider, string) (*service.TokenGrant, error) {
	return s.grant, s.exchangeErr
}

func (s *stubTokenManager) EnsureFresh(_ context.Context, conn *entity.SyncConnection) *entity.SyncConnection {
	s.freshCalls++

	return conn
}

func (s *stubTokenManager) Do(context.Context, *entity.SyncConnection, *http.Request) (*http.Response, error) {
	return nil, errors.New("not supported in tests")
}

// ruleTriggerRecorder records automation trigger calls.
type ruleTriggerRecorder struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (r *ruleTriggerRecorder) TriggerRules(_ context.Context, eventID, _ uuid.UUID, _ service.TriggerType, _ []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, eventID)

	return r.err
}

// syncEnv wires the in-memory fakes into one test fixture.
type syncEnv struct {
	conns    *memConnRepo
	syncedCs *memSyncedCalRepo
	cals     *memCalendarRepo
	maps     *memMappingRepo
	events   *memEventRepo
	users    *memUserRepo
	adapter  *fakeAdapter
	tokens   *stubTokenManager
	metrics  *metrics.Metrics
	cfg      *config.Config
}

func newSyncEnv() *syncEnv {
	maps := newMemMappingRepo()

	return &syncEnv{
		conns:    newMemConnRepo(),
		syncedCs: newMemSyncedCalRepo(maps),
		cals:     newMemCalendarRepo(),
		maps:     maps,
		events:   newMemEventRepo(),
		users:    newMemUserRepo(),
		adapter:  newFakeAdapter(entity.ProviderGoogle),
		tokens:   &stubTokenManager{},
		metrics:  newTestMetrics(),
		cfg:      newTestConfig(),
	}
}

func (e *syncEnv) service() usecase.SyncUsecase {
	return NewSyncService(SyncServiceParams{
		ConnRepo:     e.conns,
		SyncedCal:    e.syncedCs,
		CalendarRepo: e.cals,
		MappingRepo:  e.maps,
		EventRepo:    e.events,
		UserRepo:     e.users,
		Tokens:       e.tokens,
		Adapters:     []provider.Adapter{e.adapter},
		Metrics:      e.metrics,
		Logger:       newDiscardLogger(),
		Config:       e.cfg,
	})
}

func (e *syncEnv) newReconciler() *reconciler {
	return &reconciler{
		adapters:    map[entity.Provider]provider.Adapter{e.adapter.prov: e.adapter},
		syncedCal:   e.syncedCs,
		mappingRepo: e.maps,
		eventRepo:   e.events,
		userRepo:    e.users,
		metrics:     e.metrics,
		logger:      newDiscardLogger(),
		syncCfg:     e.cfg.Sync,
	}
}

func (e *syncEnv) seedUser(tz string) *entity.User {
	user := &entity.User{ID: uuid.New(), Email: "user@example.com", Timezone: tz}
	e.users.put(user)

	return user
}

func (e *syncEnv) seedConnection(userID uuid.UUID, status entity.ConnectionStatus) *entity.SyncConnection {
	conn := &entity.SyncConnection{
		ID:                uuid.New(),
		UserID:            userID,
		Provider:          e.adapter.prov,
		ProviderAccountID: "account@example.com",
		AccessToken:       "access",
		RefreshToken:      "refresh",
		TokenExpiresAt:    time.Now().Add(time.Hour),
		Status:            status,
	}
	e.conns.put(conn)

	return conn
}

func (e *syncEnv) seedSyncedCalendar(conn *entity.SyncConnection, bidirectional bool) (*entity.SyncedCalendar, *entity.Calendar) {
	mirror := &entity.Calendar{
		ID:       uuid.New(),
		OwnerID:  conn.UserID,
		Name:     "External Calendar",
		IsMirror: true,
	}
	e.cals.put(mirror)

	cal := &entity.SyncedCalendar{
		ID:              uuid.New(),
		ConnectionID:    conn.ID,
		LocalCalendarID: mirror.ID,
		ExternalID:      "ext-cal-1",
		ExternalName:    "External Calendar",
		Bidirectional:   bidirectional,
	}
	e.syncedCs.put(cal)

	return cal, mirror
}
