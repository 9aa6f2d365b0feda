// Package router contains routing and server setup for the HTTP delivery.
package router

import (
	"calsync/internal/delivery/http/middleware"
	"calsync/internal/delivery/http/router/handler"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

type RouterParams struct {
	fx.In

	SyncHandler    *handler.SyncHandler
	AuthMiddleware *middleware.AuthMiddleware
}

// router holds all the handlers that need to be registered.
type router struct {
	syncHandler    *handler.SyncHandler
	authMiddleware *middleware.AuthMiddleware
}

// NewRouter is the constructor for the Router.
// Fx will inject the required handlers here.
func NewRouter(params RouterParams) *router {
	return &router{
		syncHandler:    params.SyncHandler,
		authMiddleware: params.AuthMiddleware,
	}
}

// RegisterRoutes sets up all the API routes for the application.
func (r *router) RegisterRoutes(e *echo.Echo) {
	// Operational endpoints
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	syncGroup := e.Group("/api/sync")

	// The OAuth callback is hit by the provider's redirect, so it cannot
	// carry a bearer token; the signed state parameter authenticates it.
	syncGroup.GET("/callback/:provider", r.syncHandler.OAuthCallback)

	authed := syncGroup.Group("")
	authed.Use(r.authMiddleware.Authenticate)
	{
		authed.GET("/auth/:provider", r.syncHandler.BeginAuth)
		authed.GET("/calendars/:provider", r.syncHandler.ListCalendars)
		authed.POST("/calendars", r.syncHandler.ConnectCalendars)
		authed.POST("/now", r.syncHandler.SyncNow)
		authed.DELETE("/connection", r.syncHandler.Disconnect)
		authed.GET("/status", r.syncHandler.Status)
	}
}
