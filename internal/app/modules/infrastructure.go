package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/channel"
	"clientportal.io/portal/internal/config"
	"clientportal.io/portal/internal/infrastructure"
	"clientportal.io/portal/internal/pkg/clock"
	"clientportal.io/portal/internal/pkg/logger"
	"clientportal.io/portal/internal/pkg/worker"
	"clientportal.io/portal/internal/provider/email"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config   *config.Config
	DB       *infrastructure.DatabaseClients
	Realtime *infrastructure.RealtimeClients
	Pools    *worker.Pools
	Email    email.Transport
	Catalog  *channel.Catalog
	Clock    clock.Clock
	// Location applies to users without a timezone.
	Location *time.Location
}

// NewInfrastructure opens the store, the realtime transport and the worker
// pools, and builds the email transport and template catalog.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	loc, err := time.LoadLocation(cfg.Notification.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("load default timezone %q: %w", cfg.Notification.DefaultTimezone, err)
	}
	transport, err := email.NewTransport(cfg.Email)
	if err != nil {
		return nil, fmt.Errorf("init email transport: %w", err)
	}
	catalog, err := channel.LoadCatalog(cfg.Notification.PortalURL)
	if err != nil {
		return nil, fmt.Errorf("load email templates: %w", err)
	}

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	// Dev-mode: create store tables + River queue tables.
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	rt, err := infrastructure.NewRealtimeClients(ctx, cfg.Realtime)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init realtime: %w", err)
	}

	poolCfg := worker.PoolConfig{
		GeneralPoolSize:  cfg.Worker.GeneralPoolSize,
		DeliveryPoolSize: cfg.Worker.DeliveryPoolSize,
	}
	defaults := worker.DefaultPoolConfig()
	if poolCfg.GeneralPoolSize <= 0 {
		poolCfg.GeneralPoolSize = defaults.GeneralPoolSize
	}
	if poolCfg.DeliveryPoolSize <= 0 {
		poolCfg.DeliveryPoolSize = defaults.DeliveryPoolSize
	}
	// Pools outlive the bootstrap context; Shutdown stops them.
	pools, err := worker.NewPools(context.WithoutCancel(ctx), poolCfg)
	if err != nil {
		rt.Close()
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	logger.Info("Infrastructure ready",
		zap.String("store", db.Driver),
		zap.String("email", transport.Name()),
		zap.String("realtime", rt.Provider),
	)

	return &Infrastructure{
		Config:   cfg,
		DB:       db,
		Realtime: rt,
		Pools:    pools,
		Email:    transport,
		Catalog:  catalog,
		Clock:    clock.Real{},
		Location: loc,
	}, nil
}

// InitRiver initializes the River client on top of a prepared worker registry.
func (i *Infrastructure) InitRiver(workers *river.Workers, schedules []Schedule) error {
	if i == nil || i.DB == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if err := i.DB.InitRiverClient(workers, PeriodicJobs(schedules), i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.Realtime != nil {
		i.Realtime.Close()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
