package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/riverqueue/river"

	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/pkg/clock"
	"clientportal.io/portal/internal/store/memory"
)

func TestNotificationCleanupArgsKind(t *testing.T) {
	t.Parallel()

	if got := (NotificationCleanupArgs{}).Kind(); got != "notification_cleanup" {
		t.Fatalf("Kind() = %q, want %q", got, "notification_cleanup")
	}
}

func TestNotificationCleanupArgsInsertOpts(t *testing.T) {
	t.Parallel()

	opts := (NotificationCleanupArgs{}).InsertOpts()
	if opts.Queue != river.QueueDefault {
		t.Fatalf("Queue = %q, want %q", opts.Queue, river.QueueDefault)
	}
	if opts.MaxAttempts != 1 {
		t.Fatalf("MaxAttempts = %d, want 1", opts.MaxAttempts)
	}
	if opts.UniqueOpts.ByPeriod != 24*time.Hour {
		t.Fatalf("UniqueOpts.ByPeriod = %s, want %s", opts.UniqueOpts.ByPeriod, 24*time.Hour)
	}
	if !opts.UniqueOpts.ByQueue || !opts.UniqueOpts.ByArgs {
		t.Fatal("UniqueOpts must be scoped by queue and args")
	}
}

func TestNotificationCleanupWorker_Enabled(t *testing.T) {
	t.Parallel()

	if NewNotificationCleanupWorker(memory.New(), 0, nil).Enabled() {
		t.Fatal("zero retention must disable cleanup")
	}
	if NewNotificationCleanupWorker(memory.New(), -time.Hour, nil).Enabled() {
		t.Fatal("negative retention must disable cleanup")
	}
	if !NewNotificationCleanupWorker(memory.New(), 24*time.Hour, nil).Enabled() {
		t.Fatal("positive retention must enable cleanup")
	}
}

func TestNotificationCleanupWorkerWork_Uninitialized(t *testing.T) {
	t.Parallel()

	t.Run("nil receiver", func(t *testing.T) {
		var w *NotificationCleanupWorker
		err := w.Work(context.Background(), nil)
		if err == nil || !strings.Contains(err.Error(), "not initialized") {
			t.Fatalf("Work() error = %v, want contains %q", err, "not initialized")
		}
	})

	t.Run("nil pruner", func(t *testing.T) {
		w := &NotificationCleanupWorker{}
		err := w.Work(context.Background(), nil)
		if err == nil || !strings.Contains(err.Error(), "not initialized") {
			t.Fatalf("Work() error = %v, want contains %q", err, "not initialized")
		}
	})
}

func TestNotificationCleanupWorker_DeletesOnlyExpiredReadRows(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)
	st := memory.New()
	ctx := context.Background()
	seedRow := func(id string, age time.Duration, read bool) {
		t.Helper()
		n := &domain.Notification{
			ID:        id,
			UserID:    "user-1",
			Type:      domain.CategoryGeneral,
			Title:     id,
			Message:   "m",
			CreatedAt: now.Add(-age),
		}
		if err := st.CreateNotification(ctx, n); err != nil {
			t.Fatalf("CreateNotification(%s): %v", id, err)
		}
		if read {
			if _, err := st.MarkRead(ctx, id, "user-1", now.Add(-age).Add(time.Minute)); err != nil {
				t.Fatalf("MarkRead(%s): %v", id, err)
			}
		}
	}
	seedRow("old-read", 40*24*time.Hour, true)
	seedRow("old-unread", 40*24*time.Hour, false)
	seedRow("new-read", 2*24*time.Hour, true)

	w := NewNotificationCleanupWorker(st, 30*24*time.Hour, clock.NewFixed(now))
	if err := w.Work(ctx, nil); err != nil {
		t.Fatalf("Work() error = %v", err)
	}

	unread, err := st.CountUnread(ctx, "user-1")
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	if unread != 1 {
		t.Fatalf("unread = %d, want 1", unread)
	}
	// old-unread keeps the feed at two rows.
	list, err := st.ListNotifications(ctx, "user-1", storeListAll)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("remaining rows = %d, want 2", len(list))
	}
	for _, n := range list {
		if n.ID == "old-read" {
			t.Fatal("old-read should have been deleted")
		}
	}
}

func TestNotificationCleanupWorker_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	p := &countingPruner{}
	w := NewNotificationCleanupWorker(p, 0, nil)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if p.calls != 0 {
		t.Fatalf("pruner called %d times, want 0", p.calls)
	}
}

func TestNotificationCleanupWorker_PropagatesStoreError(t *testing.T) {
	t.Parallel()

	p := &countingPruner{err: errors.New("db down")}
	w := NewNotificationCleanupWorker(p, time.Hour, nil)
	err := w.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("Run() error = %v, want wrapped store error", err)
	}
}
