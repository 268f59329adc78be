package app

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"clientportal.io/portal/internal/api/middleware"
	"clientportal.io/portal/internal/config"
)

func TestBuildCORSConfig_DefaultsToAllowlistWhenOriginsEmpty(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins:        nil,
			AllowCredentials:      true,
			UnsafeAllowAllOrigins: false,
		},
	}

	got := buildCORSConfig(cfg)
	if got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want false", got.AllowAllOrigins)
	}
	if !got.AllowCredentials {
		t.Fatalf("AllowCredentials = %v, want true", got.AllowCredentials)
	}
	if len(got.AllowOrigins) != 2 {
		t.Fatalf("len(AllowOrigins) = %d, want 2", len(got.AllowOrigins))
	}
}

func TestBuildCORSConfig_StripsWildcardUnlessUnsafeFlagEnabled(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins:        []string{"*", "https://example.com"},
			AllowCredentials:      true,
			UnsafeAllowAllOrigins: false,
		},
	}

	got := buildCORSConfig(cfg)
	if got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want false", got.AllowAllOrigins)
	}
	if len(got.AllowOrigins) != 1 || got.AllowOrigins[0] != "https://example.com" {
		t.Fatalf("AllowOrigins = %#v, want []string{\"https://example.com\"}", got.AllowOrigins)
	}
}

func TestBuildCORSConfig_UnsafeAllowAllDisablesCredentials(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins:        []string{"*"},
			AllowCredentials:      true,
			UnsafeAllowAllOrigins: true,
		},
	}

	got := buildCORSConfig(cfg)
	if !got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want true", got.AllowAllOrigins)
	}
	if got.AllowCredentials {
		t.Fatalf("AllowCredentials = %v, want false", got.AllowCredentials)
	}
	if len(got.AllowOrigins) != 0 {
		t.Fatalf("AllowOrigins = %#v, want empty", got.AllowOrigins)
	}
}

func TestRouter_Authorization(t *testing.T) {
	application := bootstrapMemory(t)
	user := token(t, "client-1")
	dispatcher := token(t, "svc", middleware.PermissionDispatch)
	admin := token(t, "ops", middleware.PermissionPlatformAdmin)

	event := `{"recipientUserId":"client-1","category":"general","title":"t","message":"m"}`

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{name: "liveness is public", method: http.MethodGet, path: "/api/v1/health/live", want: http.StatusOK},
		{name: "readiness is public", method: http.MethodGet, path: "/api/v1/health/ready", want: http.StatusOK},
		{name: "feed needs a token", method: http.MethodGet, path: "/api/v1/notifications", want: http.StatusUnauthorized},
		{name: "feed with token", method: http.MethodGet, path: "/api/v1/notifications", token: user, want: http.StatusOK},
		{name: "preferences with token", method: http.MethodGet, path: "/api/v1/preferences", token: user, want: http.StatusOK},
		{name: "events need dispatch permission", method: http.MethodPost, path: "/api/v1/events", body: event, token: user, want: http.StatusForbidden},
		{name: "events with dispatch permission", method: http.MethodPost, path: "/api/v1/events", body: event, token: dispatcher, want: http.StatusCreated},
		{name: "admin satisfies dispatch", method: http.MethodPost, path: "/api/v1/events", body: event, token: admin, want: http.StatusCreated},
		{name: "admin routes need platform admin", method: http.MethodPost, path: "/api/v1/admin/digests/flush", token: dispatcher, want: http.StatusForbidden},
		{name: "admin flush", method: http.MethodPost, path: "/api/v1/admin/digests/flush", token: admin, want: http.StatusOK},
		{name: "unknown notification", method: http.MethodPost, path: "/api/v1/notifications/missing/read", token: user, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, application, tt.method, tt.path, tt.body, tt.token)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
		})
	}
}
