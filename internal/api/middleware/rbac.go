package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "clientportal.io/portal/internal/pkg/errors"
)

// Permissions checked by the notification API.
const (
	// PermissionPlatformAdmin is the super-admin permission and satisfies
	// every check.
	PermissionPlatformAdmin = "platform:admin"
	// PermissionDispatch allows internal services to submit events.
	PermissionDispatch = "notifications:dispatch"
)

// RequirePermission returns middleware that checks if the authenticated
// caller holds a specific global permission.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := CallerFrom(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": apperrors.CodeForbidden, "message": "no authenticated caller",
			})
			return
		}
		if !caller.Can(permission) {
			RequestLogger(c.Request.Context()).Debug("Permission denied",
				zap.String("permission", permission),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": apperrors.CodeForbidden, "message": "insufficient permissions",
			})
			return
		}
		c.Next()
	}
}
