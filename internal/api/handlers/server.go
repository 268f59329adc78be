// Package handlers implements the HTTP API of the portal notification
// engine. Route registration lives in internal/app; handlers do not
// register their own routes.
//
// Import Path: clientportal.io/portal/internal/api/handlers
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"clientportal.io/portal/internal/api/middleware"
	"clientportal.io/portal/internal/digest"
	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/feed"
	"clientportal.io/portal/internal/notification"
	apperrors "clientportal.io/portal/internal/pkg/errors"
	"clientportal.io/portal/internal/preference"
	"clientportal.io/portal/internal/provider/realtime"
)

// DigestFlusher delivers due digest windows on demand.
type DigestFlusher interface {
	Flush(ctx context.Context) (digest.FlushResult, error)
}

// ContactWriter stores directory entries pushed by the identity service.
type ContactWriter interface {
	UpsertContact(ctx context.Context, c domain.Contact) error
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Server holds the API handlers.
type Server struct {
	dispatcher  notification.Sender
	triggers    *notification.Triggers
	preferences *preference.Service
	feed        *feed.Projection
	digest      DigestFlusher
	hub         *realtime.Hub
	contacts    ContactWriter
	checks      map[string]HealthCheck
	workers     func() map[string]any
	origins     []string
	lifecycle   context.Context
}

// ServerDeps holds all dependencies for creating a Server.
// Manual DI, no Wire/Dig.
type ServerDeps struct {
	Dispatcher  notification.Sender
	Triggers    *notification.Triggers
	Preferences *preference.Service
	Feed        *feed.Projection
	Digest      DigestFlusher
	Hub         *realtime.Hub
	Contacts    ContactWriter
	// Checks are probed by the readiness endpoint, keyed by name.
	Checks map[string]HealthCheck
	// Workers reports worker pool occupancy on the readiness endpoint.
	Workers func() map[string]any
	// AllowedOrigins gates websocket upgrades from browsers. Empty allows
	// same-origin only.
	AllowedOrigins []string
	// Lifecycle ends long-lived websocket streams on shutdown.
	Lifecycle context.Context
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	lifecycle := deps.Lifecycle
	if lifecycle == nil {
		lifecycle = context.Background()
	}
	triggers := deps.Triggers
	if triggers == nil && deps.Dispatcher != nil {
		triggers = notification.NewTriggers(deps.Dispatcher)
	}
	return &Server{
		dispatcher:  deps.Dispatcher,
		triggers:    triggers,
		preferences: deps.Preferences,
		feed:        deps.Feed,
		digest:      deps.Digest,
		hub:         deps.Hub,
		contacts:    deps.Contacts,
		checks:      deps.Checks,
		workers:     deps.Workers,
		origins:     deps.AllowedOrigins,
		lifecycle:   lifecycle,
	}
}

// userFromCtx extracts the authenticated user ID. It writes a 401 and
// returns false when the request carries no identity.
func userFromCtx(c *gin.Context) (string, bool) {
	if uid := middleware.GetUserID(c.Request.Context()); uid != "" {
		return uid, true
	}
	c.JSON(http.StatusUnauthorized, gin.H{
		"code":    apperrors.CodeUnauthorized,
		"message": "authentication required",
	})
	return "", false
}

func badRequest(c *gin.Context, message string, err error) {
	appErr := apperrors.BadRequest(apperrors.CodeValidationFailed, message)
	if err != nil {
		appErr = appErr.WithCause(err)
	}
	_ = c.Error(appErr)
}
