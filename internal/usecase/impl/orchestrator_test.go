package impl

import (
	"context"
	"testing"
	"time"

	"calsync/internal/domain/entity"
	"calsync/internal/domain/provider"
	"calsync/internal/domain/service"
	"calsync/internal/usecase"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationURL(t *testing.T) {
	env := newSyncEnv()
	env.tokens.authURL = "https://accounts.example.com/consent"
	svc := env.service()

	got, err := svc.AuthorizationURL(context.Background(), uuid.New(), entity.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "https://accounts.example.com/consent", got)

	_, err = svc.AuthorizationURL(context.Background(), uuid.New(), entity.Provider("caldav"))
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestCompleteOAuth_CreatesConnection(t *testing.T) {
	env := newSyncEnv()
	userID := uuid.New()
	env.tokens.stateUser = userID
	env.tokens.grant = &service.TokenGrant{
		AccessToken:       "granted-access",
		RefreshToken:      "granted-refresh",
		ExpiresAt:         time.Now().Add(time.Hour).Unix(),
		ProviderAccountID: "account@example.com",
	}
	svc := env.service()

	require.NoError(t, svc.CompleteOAuth(context.Background(), entity.ProviderGoogle, "code", "state"))

	conn, err := env.conns.FindByUserAndProvider(context.Background(), userID, entity.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, entity.ConnectionActive, conn.Status)
	assert.Equal(t, "granted-access", conn.AccessToken)
	assert.Equal(t, "granted-refresh", conn.RefreshToken)
	assert.Equal(t, "account@example.com", conn.ProviderAccountID)
}

func TestCompleteOAuth_ReactivatesErroredConnection(t *testing.T) {
	env := newSyncEnv()
	user := env.seedUser("UTC")
	conn := env.seedConnection(user.ID, entity.ConnectionError)

	env.tokens.stateUser = user.ID
	// The provider did not rotate the refresh token this time.
	env.tokens.grant = &service.TokenGrant{
		AccessToken:       "new-access",
		ExpiresAt:         time.Now().Add(time.Hour).Unix(),
		ProviderAccountID: conn.ProviderAccountID,
	}
	svc := env.service()

	require.NoError(t, svc.CompleteOAuth(context.Background(), entity.ProviderGoogle, "code", "state"))

	got := env.conns.get(conn.ID)
	assert.Equal(t, entity.ConnectionActive, got.Status)
	assert.Equal(t, "new-access", got.AccessToken)
	// The stored refresh token survives.
	assert.Equal(t, "refresh", got.RefreshToken)
}

func TestCompleteOAuth_InvalidState(t *testing.T) {
	env := newSyncEnv()
	env.tokens.stateErr = errors.New("signature mismatch")
	svc := env.service()

	err := svc.CompleteOAuth(context.Background(), entity.ProviderGoogle, "code", "forged")
	require.Error(t, err)
	assert.Zero(t, len(env.conns.conns))
}

func TestListExternalCalendars(t *testing.T) {
	env := newSyncEnv()
	user := env.seedUser("UTC")
	env.seedConnection(user.ID, entity.ConnectionActive)
	env.adapter.calendars = []provider.ExternalCalendar{
		{ID: "primary", Name: "Work", IsPrimary: true, CanEdit: true},
	}
	svc := env.service()

	calendars, err := svc.ListExternalCalendars(context.Background(), user.ID, entity.ProviderGoogle)
	require.NoError(t, err)
	assert.Len(t, calendars, 1)
	assert.Equal(t, 1, env.tokens.freshCalls, "tokens must be refreshed before listing")

	_, err = svc.ListExternalCalendars(context.Background(), uuid.New(), entity.ProviderGoogle)
	assert.ErrorIs(t, err, ErrNoActiveConnection)
}

func TestListExternalCalendars_InactiveConnection(t *testing.T) {
	env := newSyncEnv()
	user := env.seedUser("UTC")
	env.seedConnection(user.ID, entity.ConnectionInactive)
	svc := env.service()

	_, err := svc.ListExternalCalendars(context.Background(), user.ID, entity.ProviderGoogle)
	assert.ErrorIs(t, err, ErrNoActiveConnection)
}

func TestConnectCalendars_CreateAndReselect(t *testing.T) {
	env := newSyncEnv()
	user := env.seedUser("UTC")
	conn := env.seedConnection(user.ID, entity.ConnectionActive)
	svc := env.service()

	require.NoError(t, svc.ConnectCalendars(context.Background(), user.ID, entity.ProviderGoogle, []usecase.CalendarSelection{
		{ExternalID: "ext-1", Name: "Team", Bidirectional: false},
	}))

	cal, err := env.syncedCs.FindByConnectionAndExternalID(context.Background(), conn.ID, "ext-1")
	require.NoError(t, err)
	assert.False(t, cal.Bidirectional)

	mirror, err := env.cals.FindByID(context.Background(), cal.LocalCalendarID)
	require.NoError(t, err)
	assert.True(t, mirror.IsMirror)
	assert.Equal(t, "Team", mirror.Name)
	assert.Equal(t, user.ID, mirror.OwnerID)

	// Re-selecting is idempotent: the flag updates, the mirror renames, and
	// no second synced calendar appears.
	require.NoError(t, svc.ConnectCalendars(context.Background(), user.ID, entity.ProviderGoogle, []usecase.CalendarSelection{
		{ExternalID: "ext-1", Name: "Team (renamed)", Bidirectional: true},
	}))

	cal, err = env.syncedCs.FindByConnectionAndExternalID(context.Background(), conn.ID, "ext-1")
	require.NoError(t, err)
	assert.True(t, cal.Bidirectional)
	assert.Equal(t, "Team (renamed)", cal.ExternalName)

	mirror, err = env.cals.FindByID(context.Background(), cal.LocalCalendarID)
	require.NoError(t, err)
	assert.Equal(t, "Team (renamed)", mirror.Name)

	cals, err := env.syncedCs.FindByConnection(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.Len(t, cals, 1)
}

func TestForceSync_NoActiveConnection(t *testing.T) {
	env := newSyncEnv()
	svc := env.service()

	err := svc.ForceSync(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNoActiveConnection)
}

func TestForceSync_MarksConnectionSynced(t *testing.T) {
	env := newSyncEnv()
	user := env.seedUser("UTC")
	conn := env.seedConnection(user.ID, entity.ConnectionActive)
	env.seedSyncedCalendar(conn, false)
	svc := env.service()

	require.NoError(t, svc.ForceSync(context.Background(), user.ID))

	got := env.conns.get(conn.ID)
	require.NotNil(t, got.LastSyncAt)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.SyncRuns.WithLabelValues(string(conn.Provider), "success")))
}

func TestForceSync_AuthFailureParksConnection(t *testing.T) {
	env := newSyncEnv()
	user := env.seedUser("UTC")
	conn := env.seedConnection(user.ID, entity.ConnectionActive)
	env.seedSyncedCalendar(conn, false)

	env.adapter.fetch = func(_ string, _ provider.FetchOptions) (*provider.FetchResult, error) {
		return nil, &provider.Error{Provider: "google", Operation: "fetch", Status: 401}
	}
	svc := env.service()

	require.NoError(t, svc.ForceSync(context.Background(), user.ID))

	got := env.conns.get(conn.ID)
	assert.Equal(t, entity.ConnectionError, got.Status)
	assert.Nil(t, got.LastSyncAt)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.SyncRuns.WithLabelValues(string(conn.Provider), "error")))
}

func TestForceSync_TransientFailureKeepsConnectionActive(t *testing.T) {
	env := newSyncEnv()
	user := env.seedUser("UTC")
	conn := env.seedConnection(user.ID, entity.ConnectionActive)
	env.seedSyncedCalendar(conn, false)
	// A connection to a provider no adapter serves fails without being an
	// auth rejection.
	conn.Provider = entity.ProviderMicrosoft
	env.conns.put(conn)

	svc := env.service()
	require.NoError(t, svc.ForceSync(context.Background(), user.ID))

	got := env.conns.get(conn.ID)
	assert.Equal(t, entity.ConnectionActive, got.Status)
	assert.Nil(t, got.LastSyncAt)
}

func TestForceSync_SingleFlightPerConnection(t *testing.T) {
	env := newSyncEnv()
	user := env.seedUser("UTC")
	conn := env.seedConnection(user.ID, entity.ConnectionActive)
	env.seedSyncedCalendar(conn, false)

	entered := make(chan struct{})
	release := make(chan struct{})
	env.adapter.fetch = func(_ string, _ provider.FetchOptions) (*provider.FetchResult, error) {
		entered <- struct{}{}
		<-release

		return &provider.FetchResult{}, nil
	}
	svc := env.service()

	done := make(chan error, 1)
	go func() {
		done <- svc.ForceSync(context.Background(), user.ID)
	}()
	<-entered

	// The first pass is still holding the connection; this one is skipped.
	require.NoError(t, svc.ForceSync(context.Background(), user.ID))
	assert.Equal(t, 1, env.adapter.fetchCount())

	close(release)
	require.NoError(t, <-done)

	// With the lock released the connection syncs again.
	env.adapter.fetch = nil
	require.NoError(t, svc.ForceSync(context.Background(), user.ID))
	assert.Equal(t, 2, env.adapter.fetchCount())

	got := env.conns.get(conn.ID)
	require.NotNil(t, got.LastSyncAt)
}

func TestTick_SyncsOnlyDueConnections(t *testing.T) {
	env := newSyncEnv()

	fresh := env.seedUser("UTC")
	freshConn := env.seedConnection(fresh.ID, entity.ConnectionActive)
	now := time.Now()
	freshConn.LastSyncAt = &now
	env.conns.put(freshConn)
	env.seedSyncedCalendar(freshConn, false)

	stale := env.seedUser("UTC")
	staleConn := env.seedConnection(stale.ID, entity.ConnectionActive)
	before := now.Add(-10 * time.Minute)
	staleConn.LastSyncAt = &before
	env.conns.put(staleConn)
	env.seedSyncedCalendar(staleConn, false)

	svc := env.service()
	require.NoError(t, svc.Tick(context.Background()))

	assert.Equal(t, 1, env.adapter.fetchCount())

	gotFresh := env.conns.get(freshConn.ID)
	assert.True(t, gotFresh.LastSyncAt.Equal(now), "recently synced connection must be skipped")

	gotStale := env.conns.get(staleConn.ID)
	assert.True(t, gotStale.LastSyncAt.After(before))
}

func TestDisconnect_RemovesMirrorsAndClearsTokens(t *testing.T) {
	env := newSyncEnv()
	user := env.seedUser("UTC")
	conn := env.seedConnection(user.ID, entity.ConnectionActive)
	cal, mirror := env.seedSyncedCalendar(conn, true)

	// A user-owned calendar mapped for bidirectional sync must survive.
	userCal := &entity.Calendar{ID: uuid.New(), OwnerID: user.ID, Name: "Personal"}
	env.cals.put(userCal)
	userSynced := &entity.SyncedCalendar{
		ID:              uuid.New(),
		ConnectionID:    conn.ID,
		LocalCalendarID: userCal.ID,
		ExternalID:      "ext-cal-2",
		Bidirectional:   true,
	}
	env.syncedCs.put(userSynced)

	require.NoError(t, env.maps.Create(context.Background(), &entity.EventMapping{
		ID:               uuid.New(),
		SyncedCalendarID: cal.ID,
		ExternalEventID:  "ev-1",
		LocalEventID:     uuid.New(),
	}))

	svc := env.service()
	require.NoError(t, svc.Disconnect(context.Background(), user.ID, entity.ProviderGoogle))

	got := env.conns.get(conn.ID)
	assert.Equal(t, entity.ConnectionInactive, got.Status)
	assert.Empty(t, got.AccessToken)
	assert.Empty(t, got.RefreshToken)

	cals, err := env.syncedCs.FindByConnection(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.Empty(t, cals)
	assert.Zero(t, env.maps.count(), "mappings cascade with their synced calendars")

	_, err = env.cals.FindByID(context.Background(), mirror.ID)
	assert.Error(t, err, "mirror calendar is removed")

	_, err = env.cals.FindByID(context.Background(), userCal.ID)
	assert.NoError(t, err, "user calendar survives")
}

func TestDisconnect_NoConnection(t *testing.T) {
	env := newSyncEnv()
	svc := env.service()

	assert.ErrorIs(t, svc.Disconnect(context.Background(), uuid.New(), entity.ProviderGoogle), ErrNoActiveConnection)
	assert.ErrorIs(t, svc.Disconnect(context.Background(), uuid.New(), ""), ErrNoActiveConnection)
	assert.ErrorIs(t, svc.Disconnect(context.Background(), uuid.New(), entity.Provider("caldav")), ErrUnsupportedProvider)
}

func TestDisconnect_AllProviders(t *testing.T) {
	env := newSyncEnv()
	user := env.seedUser("UTC")
	conn := env.seedConnection(user.ID, entity.ConnectionActive)
	env.seedSyncedCalendar(conn, false)

	svc := env.service()
	require.NoError(t, svc.Disconnect(context.Background(), user.ID, ""))

	got := env.conns.get(conn.ID)
	assert.Equal(t, entity.ConnectionInactive, got.Status)
}

func TestStatus(t *testing.T) {
	env := newSyncEnv()
	user := env.seedUser("UTC")
	conn := env.seedConnection(user.ID, entity.ConnectionActive)
	cal, _ := env.seedSyncedCalendar(conn, true)

	svc := env.service()
	statuses, err := svc.Status(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 1)

	assert.Equal(t, entity.ProviderGoogle, statuses[0].Provider)
	assert.Equal(t, entity.ConnectionActive, statuses[0].Status)
	assert.Equal(t, conn.ProviderAccountID, statuses[0].AccountID)
	require.Len(t, statuses[0].Calendars, 1)
	assert.Equal(t, cal.ExternalID, statuses[0].Calendars[0].ExternalID)
	assert.True(t, statuses[0].Calendars[0].Bidirectional)

	// A user with no connections gets an empty list, not an error.
	statuses, err = svc.Status(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, statuses)
}
