package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"clientportal.io/portal/internal/api/handlers"
	"clientportal.io/portal/internal/channel"
	"clientportal.io/portal/internal/feed"
	"clientportal.io/portal/internal/jobs"
	"clientportal.io/portal/internal/notification"
	"clientportal.io/portal/internal/preference"
)

const cleanupInterval = 24 * time.Hour

// NotificationModule wires preferences, the feed and the dispatcher with
// its channels.
type NotificationModule struct {
	infra       *Infrastructure
	preferences *preference.Service
	feed        *feed.Projection
	dispatcher  *notification.Dispatcher
	triggers    *notification.Triggers
	cleanup     *jobs.NotificationCleanupWorker
}

// NewNotificationModule creates the notification module. digest receives
// deferred email; nil disables digest deferral.
func NewNotificationModule(infra *Infrastructure, digest notification.DigestEnqueuer) (*NotificationModule, error) {
	st := infra.DB.Store
	timeout := infra.Config.Notification.ChannelTimeout
	prefs := preference.NewService(st, infra.Clock)

	dispatcher, err := notification.NewDispatcher(notification.Deps{
		Preferences:     prefs,
		Contacts:        st,
		InApp:           channel.NewInAppChannel(st),
		Email:           channel.NewEmailChannel(infra.Email, infra.Catalog, timeout),
		Realtime:        channel.NewRealtimePushChannel(infra.Realtime.Publisher, timeout),
		Digest:          digest,
		Pool:            infra.Pools.Delivery,
		Clock:           infra.Clock,
		DefaultLocation: infra.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("init dispatcher: %w", err)
	}

	return &NotificationModule{
		infra:       infra,
		preferences: prefs,
		feed:        feed.NewProjection(st, infra.Clock),
		dispatcher:  dispatcher,
		triggers:    notification.NewTriggers(dispatcher),
		cleanup:     jobs.NewNotificationCleanupWorker(st, infra.Config.Notification.Retention, infra.Clock),
	}, nil
}

func (m *NotificationModule) Name() string { return "notification" }

// Triggers exposes the typed event helpers for in-process callers.
func (m *NotificationModule) Triggers() *notification.Triggers { return m.triggers }

func (m *NotificationModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Dispatcher = m.dispatcher
	deps.Triggers = m.triggers
	deps.Preferences = m.preferences
	deps.Feed = m.feed
	deps.Hub = m.infra.Realtime.Hub
	deps.Contacts = m.infra.DB.Store
}

func (m *NotificationModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil {
		return
	}
	river.AddWorker(workers, m.cleanup)
}

func (m *NotificationModule) Schedules() []Schedule {
	if !m.cleanup.Enabled() {
		return nil
	}
	return []Schedule{{
		Name:     jobs.NotificationCleanupArgs{}.Kind(),
		Interval: cleanupInterval,
		Args:     jobs.NotificationCleanupArgs{},
		Runner:   m.cleanup,
	}}
}

func (m *NotificationModule) Shutdown(context.Context) error { return nil }
