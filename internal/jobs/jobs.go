// Package jobs defines the background maintenance jobs of the notification
// engine: digest flushing and read-notification retention.
//
// With PostgreSQL they run as River periodic jobs. Other backends run the
// same work through StartTicker on the general worker pool.
//
// Import Path: clientportal.io/portal/internal/jobs
package jobs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"clientportal.io/portal/internal/pkg/logger"
	"clientportal.io/portal/internal/pkg/worker"
)

// Runner is one unit of periodic work.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// StartTicker runs r once immediately and then every interval on the general
// pool until the pools shut down.
func StartTicker(pools *worker.Pools, name string, interval time.Duration, r Runner) error {
	if pools == nil {
		return errors.New("worker pools are not initialized")
	}
	if r == nil {
		return errors.New("ticker runner is nil")
	}
	if interval <= 0 {
		return errors.New("ticker interval must be positive")
	}

	return pools.SubmitDetached(worker.PoolGeneral, func(ctx context.Context) {
		logger.Info("Periodic job ticker started",
			zap.String("job", name),
			zap.Duration("interval", interval),
		)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			if err := r.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Periodic job failed",
					zap.String("job", name),
					zap.Error(err),
				)
			}
			select {
			case <-ctx.Done():
				logger.Info("Periodic job ticker stopped", zap.String("job", name))
				return
			case <-t.C:
			}
		}
	})
}
