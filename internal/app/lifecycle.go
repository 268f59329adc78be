package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"clientportal.io/portal/internal/jobs"
	"clientportal.io/portal/internal/pkg/logger"
)

// Start starts all background services: River workers or in-process
// schedules, and the realtime relay.
func (a *Application) Start(ctx context.Context) error {
	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Start(ctx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		logger.Info("River client started, jobs will now be consumed")
	} else if a.Pools != nil {
		for _, s := range a.Schedules {
			if err := jobs.StartTicker(a.Pools, s.Name, s.Interval, s.Runner); err != nil {
				return fmt.Errorf("start schedule %s: %w", s.Name, err)
			}
		}
	}

	if a.Realtime != nil && a.Pools != nil {
		if err := a.Realtime.StartRelay(a.Pools); err != nil {
			return fmt.Errorf("start realtime relay: %w", err)
		}
	}
	return nil
}

// CloseStreams ends open websocket streams. http.Server.Shutdown does not
// wait for hijacked connections, so call this before it.
func (a *Application) CloseStreams() {
	if a.closeStreams != nil {
		a.closeStreams()
	}
}

// Shutdown gracefully shuts down all application components.
func (a *Application) Shutdown() {
	shutdownCtx := context.Background()
	a.CloseStreams()

	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
		}
		logger.Info("River client stopped")
	}

	for _, mod := range a.Modules {
		if mod == nil {
			continue
		}
		if err := mod.Shutdown(shutdownCtx); err != nil {
			logger.Warn("module shutdown returned error",
				zap.String("module", mod.Name()),
				zap.Error(err),
			)
		}
	}

	if a.Pools != nil {
		a.Pools.Shutdown()
	}
	if a.Realtime != nil {
		a.Realtime.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
