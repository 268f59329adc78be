package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/digest"
	"clientportal.io/portal/internal/pkg/logger"
)

// DigestFlushTimeout bounds one flush pass.
const DigestFlushTimeout = 5 * time.Minute

// DigestFlusher delivers due digest windows.
type DigestFlusher interface {
	Flush(ctx context.Context) (digest.FlushResult, error)
}

// DigestFlushArgs is the periodic job that delivers due digest windows.
type DigestFlushArgs struct{}

// Kind returns the job kind identifier for digest flushing.
func (DigestFlushArgs) Kind() string { return "digest_flush" }

// InsertOpts keeps at most one flush per minute in the queue. A failed pass
// is not retried; the next tick picks the windows up again.
func (DigestFlushArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Minute,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// DigestFlushWorker runs one digest flush pass.
type DigestFlushWorker struct {
	river.WorkerDefaults[DigestFlushArgs]
	flusher DigestFlusher
}

// NewDigestFlushWorker creates a digest flush worker.
func NewDigestFlushWorker(flusher DigestFlusher) *DigestFlushWorker {
	return &DigestFlushWorker{flusher: flusher}
}

// Timeout overrides River's default job timeout.
func (w *DigestFlushWorker) Timeout(*river.Job[DigestFlushArgs]) time.Duration {
	return DigestFlushTimeout
}

// Work runs a flush pass.
func (w *DigestFlushWorker) Work(ctx context.Context, _ *river.Job[DigestFlushArgs]) error {
	return w.Run(ctx)
}

// Run delivers due windows. Windows whose email failed are released for
// the next pass and do not fail the job.
func (w *DigestFlushWorker) Run(ctx context.Context) error {
	if w == nil || w.flusher == nil {
		return fmt.Errorf("digest flush worker is not initialized")
	}
	res, err := w.flusher.Flush(ctx)
	if err != nil {
		return fmt.Errorf("flush digests: %w", err)
	}
	if res.Failed > 0 {
		logger.Warn("Digest flush left windows for retry",
			zap.Int("failed", res.Failed),
			zap.Int("delivered", res.Delivered),
		)
	}
	return nil
}
