// Package modules contains domain-oriented dependency modules for the
// composition root.
//
// Import Path: clientportal.io/portal/internal/app/modules
package modules

import (
	"context"
	"time"

	"github.com/riverqueue/river"

	"clientportal.io/portal/internal/api/handlers"
	"clientportal.io/portal/internal/jobs"
)

// Module represents a domain-specific dependency unit in the composition root.
type Module interface {
	// Name returns a stable module identifier for logging/debugging.
	Name() string

	// ContributeServerDeps injects module-owned dependencies into the HTTP server deps.
	ContributeServerDeps(*handlers.ServerDeps)

	// RegisterWorkers registers module workers into a shared River worker registry.
	RegisterWorkers(*river.Workers)

	// Schedules lists the module's recurring background jobs.
	Schedules() []Schedule

	// Shutdown performs module-local graceful cleanup.
	Shutdown(context.Context) error
}

// Schedule is a recurring job. With River available Args is enqueued by the
// periodic scheduler and handled by a registered worker; otherwise Runner is
// called in-process on a ticker.
type Schedule struct {
	Name     string
	Interval time.Duration
	Args     river.JobArgs
	Runner   jobs.Runner
}

// PeriodicJobs converts schedules to River periodic jobs. Each runs once on
// start.
func PeriodicJobs(schedules []Schedule) []*river.PeriodicJob {
	out := make([]*river.PeriodicJob, 0, len(schedules))
	for _, s := range schedules {
		args := s.Args
		out = append(out, river.NewPeriodicJob(
			river.PeriodicInterval(s.Interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return args, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}
	return out
}
