package app

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/api/handlers"
	"clientportal.io/portal/internal/api/middleware"
	"clientportal.io/portal/internal/config"
	"clientportal.io/portal/internal/pkg/logger"
)

// defaultAllowedOrigins is the local portal frontend.
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
}

func newRouter(cfg *config.Config, server *handlers.Server, jwtCfg middleware.JWTConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())
	router.Use(cors.New(buildCORSConfig(cfg)))

	v1 := router.Group("/api/v1")

	// Public.
	health := v1.Group("/health")
	health.GET("/live", server.GetLiveness)
	health.GET("/ready", server.GetReadiness)

	authed := v1.Group("", middleware.JWTAuth(jwtCfg))

	authed.POST("/events", middleware.RequirePermission(middleware.PermissionDispatch), server.DispatchEvent)

	authed.GET("/preferences", server.GetPreferences)
	authed.PATCH("/preferences", server.UpdatePreferences)
	authed.POST("/preferences/reset", server.ResetPreferences)

	authed.GET("/notifications", server.ListNotifications)
	authed.GET("/notifications/unread-count", server.GetUnreadCount)
	authed.POST("/notifications/read-all", server.MarkAllNotificationsRead)
	authed.POST("/notifications/:id/read", server.MarkNotificationRead)

	authed.GET("/realtime", server.StreamRealtime)

	admin := authed.Group("/admin", middleware.RequirePermission(middleware.PermissionPlatformAdmin))
	admin.POST("/digests/flush", server.FlushDigests)
	admin.PUT("/contacts/:userId", server.UpsertContact)

	return router
}

// buildCORSConfig allows the configured origins. A "*" entry is dropped
// unless unsafe_allow_all_origins is set, which also disables credentials.
func buildCORSConfig(cfg *config.Config) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: cfg.Server.AllowCredentials,
		AllowWebSockets:  true,
		MaxAge:           12 * time.Hour,
	}

	if cfg.Server.UnsafeAllowAllOrigins {
		logger.Warn("CORS allows all origins; credentials are disabled")
		c.AllowAllOrigins = true
		c.AllowCredentials = false
		return c
	}

	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	for _, origin := range cfg.Server.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			logger.Warn("Ignoring wildcard CORS origin", zap.String("hint", "set server.unsafe_allow_all_origins"))
			continue
		}
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		origins = append(origins, defaultAllowedOrigins...)
	}
	c.AllowOrigins = origins
	return c
}
