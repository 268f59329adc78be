package modules

import (
	"context"

	"clientportal.io/portal/internal/api/handlers"
	"clientportal.io/portal/internal/api/middleware"
	"clientportal.io/portal/internal/config"
)

// DefaultJWTIssuer is used when security.jwt_issuer is unset.
const DefaultJWTIssuer = "client-portal"

// JWTConfig builds the token validation settings.
func JWTConfig(cfg *config.Config) middleware.JWTConfig {
	issuer := cfg.Security.JWTIssuer
	if issuer == "" {
		issuer = DefaultJWTIssuer
	}
	return middleware.JWTConfig{
		SigningKey: []byte(cfg.Security.SessionSecret),
		Issuer:     issuer,
	}
}

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
// lifecycle ends websocket streams on shutdown.
func NewServerDeps(lifecycle context.Context, cfg *config.Config, infra *Infrastructure, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{
		Checks: map[string]handlers.HealthCheck{
			"store":    infra.DB.Ping,
			"realtime": infra.Realtime.Ping,
		},
		Workers:        infra.Pools.Metrics,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Lifecycle:      lifecycle,
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		mod.ContributeServerDeps(&deps)
	}
	return deps
}
