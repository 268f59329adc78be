// Package app is the composition root. Bootstrap stays orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/api/handlers"
	"clientportal.io/portal/internal/app/modules"
	"clientportal.io/portal/internal/config"
	"clientportal.io/portal/internal/infrastructure"
	"clientportal.io/portal/internal/pkg/logger"
	"clientportal.io/portal/internal/pkg/worker"
)

// Application holds composed application dependencies.
type Application struct {
	Config    *config.Config
	Router    *gin.Engine
	DB        *infrastructure.DatabaseClients
	Realtime  *infrastructure.RealtimeClients
	Pools     *worker.Pools
	Modules   []modules.Module
	Schedules []modules.Schedule

	// closeStreams ends open websocket streams.
	closeStreams context.CancelFunc
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	digestModule := modules.NewDigestModule(infra)
	notificationModule, err := modules.NewNotificationModule(infra, digestModule.Scheduler())
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init notification module: %w", err)
	}
	allModules := []modules.Module{notificationModule, digestModule}

	var schedules []modules.Schedule
	for _, mod := range allModules {
		schedules = append(schedules, mod.Schedules()...)
	}

	// River needs PostgreSQL. Other backends run schedules on in-process
	// tickers, see Start.
	if infra.DB.SupportsRiver() {
		workers := river.NewWorkers()
		for _, mod := range allModules {
			mod.RegisterWorkers(workers)
		}
		if err := infra.InitRiver(workers, schedules); err != nil {
			infra.Close()
			return nil, fmt.Errorf("init river workers: %w", err)
		}
	} else {
		logger.Info("River unavailable for store backend, using in-process schedules",
			zap.String("store", infra.DB.Driver),
		)
	}

	streams, closeStreams := context.WithCancel(context.WithoutCancel(ctx))
	serverDeps := modules.NewServerDeps(streams, cfg, infra, allModules)
	server := handlers.NewServer(serverDeps)

	return &Application{
		Config:       cfg,
		Router:       newRouter(cfg, server, modules.JWTConfig(cfg)),
		DB:           infra.DB,
		Realtime:     infra.Realtime,
		Pools:        infra.Pools,
		Modules:      allModules,
		Schedules:    schedules,
		closeStreams: closeStreams,
	}, nil
}
