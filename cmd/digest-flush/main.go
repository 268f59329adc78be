// Package main flushes due digest windows once and exits. It is meant for
// cron-style deployments that do not run the server's schedules.
//
// Import Path: clientportal.io/portal/cmd/digest-flush
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"clientportal.io/portal/internal/channel"
	"clientportal.io/portal/internal/config"
	"clientportal.io/portal/internal/digest"
	"clientportal.io/portal/internal/infrastructure"
	"clientportal.io/portal/internal/jobs"
	"clientportal.io/portal/internal/pkg/clock"
	"clientportal.io/portal/internal/pkg/logger"
	"clientportal.io/portal/internal/provider/email"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "digest-flush error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Database.Driver == config.DriverMemory {
		return fmt.Errorf("digest-flush needs a persistent store, database.driver is %q", cfg.Database.Driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobs.DigestFlushTimeout)
	defer cancel()

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	scheduler, err := newScheduler(cfg, db)
	if err != nil {
		return err
	}

	started := time.Now()
	res, err := scheduler.Flush(ctx)
	if err != nil {
		return fmt.Errorf("flush digests: %w", err)
	}
	logger.Info("Digest flush finished",
		zap.Int("due", res.Due),
		zap.Int("delivered", res.Delivered),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Duration("took", time.Since(started)),
	)
	if res.Failed > 0 {
		return fmt.Errorf("%d digest windows failed and will be retried", res.Failed)
	}
	return nil
}

func newScheduler(cfg *config.Config, db *infrastructure.DatabaseClients) (*digest.Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Notification.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("load default timezone: %w", err)
	}
	transport, err := email.NewTransport(cfg.Email)
	if err != nil {
		return nil, fmt.Errorf("init email transport: %w", err)
	}
	catalog, err := channel.LoadCatalog(cfg.Notification.PortalURL)
	if err != nil {
		return nil, fmt.Errorf("load email templates: %w", err)
	}
	return digest.NewScheduler(db.Store, transport, catalog, clock.Real{}, digest.Config{
		ClaimLease:      cfg.Digest.ClaimLease,
		BatchSize:       cfg.Digest.BatchSize,
		SendTimeout:     cfg.Notification.ChannelTimeout,
		DefaultLocation: loc,
	}), nil
}
