// Package handler contains the echo handlers of the sync API.
package handler

import (
	"log/slog"
	"net/http"
	"net/url"

	"calsync/config"
	"calsync/internal/delivery/http/response"
	"calsync/internal/domain/entity"
	"calsync/internal/usecase"
	"calsync/internal/usecase/impl"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/fx"
)

// SyncHandler exposes the calendar sync operations over HTTP.
type SyncHandler struct {
	syncUsecase usecase.SyncUsecase
	cfg         *config.Config
	logger      *slog.Logger
}

// SyncHandlerParams holds dependencies for SyncHandler, injected by Fx.
type SyncHandlerParams struct {
	fx.In

	SyncUsecase usecase.SyncUsecase
	Config      *config.Config
	Logger      *slog.Logger
}

// NewSyncHandler is the constructor for SyncHandler.
func NewSyncHandler(params SyncHandlerParams) *SyncHandler {
	return &SyncHandler{
		syncUsecase: params.SyncUsecase,
		cfg:         params.Config,
		logger:      params.Logger,
	}
}

// HealthCheck reports process liveness.
func HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type calendarSelection struct {
	ExternalID    string `json:"externalId" validate:"required"`
	Name          string `json:"name"`
	Bidirectional bool   `json:"bidirectional"`
}

type connectCalendarsRequest struct {
	Provider  string              `json:"provider" validate:"required,oneof=google microsoft"`
	Calendars []calendarSelection `json:"calendars" validate:"required,min=1,dive"`
}

// BeginAuth returns the provider consent URL for the authenticated user.
// GET /api/sync/auth/:provider
func (h *SyncHandler) BeginAuth(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return response.Unauthorized(c, "UNAUTHORIZED", err.Error())
	}
	prov := entity.Provider(c.Param("provider"))

	authURL, err := h.syncUsecase.AuthorizationURL(c.Request().Context(), userID, prov)
	if err != nil {
		if errors.Is(err, impl.ErrUnsupportedProvider) {
			return response.BadRequest(c, "UNSUPPORTED_PROVIDER", "unknown calendar provider")
		}

		return response.InternalServerError(c, "AUTH_URL_FAILED", "failed to build authorization URL")
	}

	return response.Success(c, http.StatusOK, map[string]string{"url": authURL}, "")
}

// OAuthCallback completes the OAuth round trip and redirects the browser to
// the frontend with a success or error indicator.
// GET /api/sync/callback/:provider
func (h *SyncHandler) OAuthCallback(c echo.Context) error {
	prov := entity.Provider(c.Param("provider"))
	code := c.QueryParam("code")
	state := c.QueryParam("state")

	if code == "" || state == "" {
		return h.redirectToFrontend(c, "error", "missing code or state")
	}

	if err := h.syncUsecase.CompleteOAuth(c.Request().Context(), prov, code, state); err != nil {
		h.logger.ErrorContext(c.Request().Context(), "oauth callback failed",
			slog.String("provider", string(prov)),
			slog.String("error", err.Error()))

		return h.redirectToFrontend(c, "error", "authorization failed")
	}

	return h.redirectToFrontend(c, "success", "")
}

// ListCalendars returns the external calendars of the user's connection.
// GET /api/sync/calendars/:provider
func (h *SyncHandler) ListCalendars(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return response.Unauthorized(c, "UNAUTHORIZED", err.Error())
	}
	prov := entity.Provider(c.Param("provider"))

	calendars, err := h.syncUsecase.ListExternalCalendars(c.Request().Context(), userID, prov)
	if err != nil {
		return h.usecaseError(c, err, "LIST_CALENDARS_FAILED", "failed to list calendars")
	}

	return response.Success(c, http.StatusOK, calendars, "")
}

// ConnectCalendars enables sync on the selected calendars.
// POST /api/sync/calendars
func (h *SyncHandler) ConnectCalendars(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return response.Unauthorized(c, "UNAUTHORIZED", err.Error())
	}

	var req connectCalendarsRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "INVALID_BODY", "failed to parse request body")
	}
	if err := c.Validate(&req); err != nil {
		return response.BadRequest(c, "VALIDATION_FAILED", err.Error())
	}

	selections := make([]usecase.CalendarSelection, 0, len(req.Calendars))
	for _, cal := range req.Calendars {
		selections = append(selections, usecase.CalendarSelection{
			ExternalID:    cal.ExternalID,
			Name:          cal.Name,
			Bidirectional: cal.Bidirectional,
		})
	}

	if err := h.syncUsecase.ConnectCalendars(c.Request().Context(), userID, entity.Provider(req.Provider), selections); err != nil {
		return h.usecaseError(c, err, "CONNECT_CALENDARS_FAILED", "failed to connect calendars")
	}

	return response.Success(c, http.StatusOK, nil, "calendars connected")
}

// SyncNow runs reconciliation immediately for all of the user's connections.
// POST /api/sync/now
func (h *SyncHandler) SyncNow(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return response.Unauthorized(c, "UNAUTHORIZED", err.Error())
	}

	if err := h.syncUsecase.ForceSync(c.Request().Context(), userID); err != nil {
		return h.usecaseError(c, err, "SYNC_FAILED", "failed to run sync")
	}

	return response.Success(c, http.StatusOK, nil, "sync completed")
}

// Disconnect removes the user's connection to one provider, or all of them.
// DELETE /api/sync/connection?provider=
func (h *SyncHandler) Disconnect(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return response.Unauthorized(c, "UNAUTHORIZED", err.Error())
	}
	prov := entity.Provider(c.QueryParam("provider"))

	if err := h.syncUsecase.Disconnect(c.Request().Context(), userID, prov); err != nil {
		return h.usecaseError(c, err, "DISCONNECT_FAILED", "failed to disconnect")
	}

	return response.Success(c, http.StatusOK, nil, "disconnected")
}

// Status reports the user's connections and synced calendars.
// GET /api/sync/status
func (h *SyncHandler) Status(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return response.Unauthorized(c, "UNAUTHORIZED", err.Error())
	}

	statuses, err := h.syncUsecase.Status(c.Request().Context(), userID)
	if err != nil {
		return response.InternalServerError(c, "STATUS_FAILED", "failed to load sync status")
	}

	return response.Success(c, http.StatusOK, statuses, "")
}

func (h *SyncHandler) usecaseError(c echo.Context, err error, code, message string) error {
	switch {
	case errors.Is(err, impl.ErrNoActiveConnection):
		return response.NotFound(c, "NO_ACTIVE_CONNECTION", "no active sync connection")
	case errors.Is(err, impl.ErrUnsupportedProvider):
		return response.BadRequest(c, "UNSUPPORTED_PROVIDER", "unknown calendar provider")
	default:
		h.logger.ErrorContext(c.Request().Context(), message, slog.String("error", err.Error()))

		return response.InternalServerError(c, code, message)
	}
}

func (h *SyncHandler) redirectToFrontend(c echo.Context, status, detail string) error {
	target := h.cfg.Sync.FrontendURL
	query := url.Values{}
	query.Set("syncStatus", status)
	if detail != "" {
		query.Set("detail", detail)
	}

	return c.Redirect(http.StatusFound, target+"?"+query.Encode())
}

func currentUserID(c echo.Context) (uuid.UUID, error) {
	userID, ok := c.Get("userID").(uuid.UUID)
	if !ok {
		return uuid.Nil, errors.New("user not authenticated")
	}

	return userID, nil
}
