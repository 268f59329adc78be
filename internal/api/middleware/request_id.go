package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/pkg/logger"
)

const (
	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-ID"
	// CorrelationIDHeader is sent by upstream services that trigger events.
	// It is used as the request id when X-Request-ID is absent.
	CorrelationIDHeader = "X-Correlation-ID"

	maxRequestIDLen = 64
)

type requestIDKey struct{}

// RequestID tags every request with an id that is echoed in the response
// and attached to log lines. Incoming ids that are too long or carry
// characters outside [A-Za-z0-9._:-] are replaced with a fresh UUIDv7.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := incomingRequestID(c)
		if rid == "" {
			rid = newRequestID()
		}
		c.Writer.Header().Set(RequestIDHeader, rid)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey{}, rid))
		c.Next()
	}
}

func incomingRequestID(c *gin.Context) string {
	for _, header := range []string{RequestIDHeader, CorrelationIDHeader} {
		if rid := c.GetHeader(header); rid != "" {
			if validRequestID(rid) {
				return rid
			}
			return ""
		}
	}
	return ""
}

func validRequestID(rid string) bool {
	if len(rid) > maxRequestIDLen {
		return false
	}
	for _, r := range rid {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return false
		}
	}
	return true
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// GetRequestID returns the request id, or "" outside a request.
func GetRequestID(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey{}).(string)
	return rid
}

// RequestLogger returns the global logger tagged with the request id and,
// once authenticated, the caller.
func RequestLogger(ctx context.Context) *zap.Logger {
	fields := make([]zap.Field, 0, 2)
	if rid := GetRequestID(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	if uid := GetUserID(ctx); uid != "" {
		fields = append(fields, zap.String("caller", uid))
	}
	return logger.With(fields...)
}
