package modules

import (
	"context"

	"github.com/riverqueue/river"

	"clientportal.io/portal/internal/api/handlers"
	"clientportal.io/portal/internal/digest"
	"clientportal.io/portal/internal/jobs"
)

// DigestModule owns the digest scheduler and its flush job.
type DigestModule struct {
	infra     *Infrastructure
	scheduler *digest.Scheduler
	flush     *jobs.DigestFlushWorker
}

// NewDigestModule creates the digest module.
func NewDigestModule(infra *Infrastructure) *DigestModule {
	cfg := infra.Config
	scheduler := digest.NewScheduler(infra.DB.Store, infra.Email, infra.Catalog, infra.Clock, digest.Config{
		ClaimLease:      cfg.Digest.ClaimLease,
		BatchSize:       cfg.Digest.BatchSize,
		SendTimeout:     cfg.Notification.ChannelTimeout,
		DefaultLocation: infra.Location,
	})
	return &DigestModule{
		infra:     infra,
		scheduler: scheduler,
		flush:     jobs.NewDigestFlushWorker(scheduler),
	}
}

func (m *DigestModule) Name() string { return "digest" }

// Scheduler is the enqueue side handed to the dispatcher.
func (m *DigestModule) Scheduler() *digest.Scheduler { return m.scheduler }

func (m *DigestModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Digest = m.scheduler
}

func (m *DigestModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil {
		return
	}
	river.AddWorker(workers, m.flush)
}

// Schedules returns the flush job. A zero interval disables automatic
// flushing; POST /admin/digests/flush and the digest-flush command still work.
func (m *DigestModule) Schedules() []Schedule {
	interval := m.infra.Config.Digest.FlushInterval
	if interval <= 0 {
		return nil
	}
	return []Schedule{{
		Name:     jobs.DigestFlushArgs{}.Kind(),
		Interval: interval,
		Args:     jobs.DigestFlushArgs{},
		Runner:   m.flush,
	}}
}

func (m *DigestModule) Shutdown(context.Context) error { return nil }
