package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/pkg/clock"
	"clientportal.io/portal/internal/pkg/logger"
)

// ReadNotificationPruner deletes read notifications.
type ReadNotificationPruner interface {
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NotificationCleanupArgs is a periodic maintenance job that removes read
// notifications past the retention period.
type NotificationCleanupArgs struct{}

// Kind returns the job kind identifier for periodic notification cleanup.
func (NotificationCleanupArgs) Kind() string { return "notification_cleanup" }

// InsertOpts ensures at most one cleanup job is enqueued within the same day.
func (NotificationCleanupArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 24 * time.Hour,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// NotificationCleanupWorker deletes read notifications created before
// now minus retention. Unread notifications are never removed.
type NotificationCleanupWorker struct {
	river.WorkerDefaults[NotificationCleanupArgs]
	pruner    ReadNotificationPruner
	retention time.Duration
	clock     clock.Clock
}

// NewNotificationCleanupWorker creates a cleanup worker. Non-positive
// retention disables cleanup.
func NewNotificationCleanupWorker(pruner ReadNotificationPruner, retention time.Duration, clk clock.Clock) *NotificationCleanupWorker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &NotificationCleanupWorker{
		pruner:    pruner,
		retention: retention,
		clock:     clk,
	}
}

// Enabled reports whether a retention period is configured.
func (w *NotificationCleanupWorker) Enabled() bool {
	return w != nil && w.retention > 0
}

// Work removes expired notification rows.
func (w *NotificationCleanupWorker) Work(ctx context.Context, _ *river.Job[NotificationCleanupArgs]) error {
	return w.Run(ctx)
}

// Run removes expired notification rows.
func (w *NotificationCleanupWorker) Run(ctx context.Context) error {
	if w == nil || w.pruner == nil {
		return fmt.Errorf("notification cleanup worker is not initialized")
	}
	if !w.Enabled() {
		logger.Debug("Notification cleanup skipped: retention disabled")
		return nil
	}

	cutoff := w.clock.Now().UTC().Add(-w.retention)
	deleted, err := w.pruner.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete read notifications before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	logger.Info("notification cleanup completed",
		zap.Int64("deleted_rows", deleted),
		zap.String("cutoff", cutoff.Format(time.RFC3339)),
		zap.Duration("retention", w.retention),
	)
	return nil
}
