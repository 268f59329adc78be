// Package infrastructure opens the backing services of the notification
// engine: the document store, the River job queue and the realtime
// transport.
//
// With PostgreSQL one pgxpool is shared by the store and River.
//
// Import Path: clientportal.io/portal/internal/infrastructure
package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/config"
	"clientportal.io/portal/internal/pkg/logger"
	"clientportal.io/portal/internal/store"
	"clientportal.io/portal/internal/store/memory"
	mongostore "clientportal.io/portal/internal/store/mongo"
	"clientportal.io/portal/internal/store/postgres"
)

// DatabaseClients contains the store backend and the clients behind it.
//
// Coding Standard: Use this struct to manage connection pools.
// Do not open a second pool for River (doubles connections).
type DatabaseClients struct {
	Driver string

	// Store is the active backend.
	Store store.Store

	// Pool is the shared PostgreSQL pool (store + River). nil for other
	// drivers.
	Pool *pgxpool.Pool

	// RiverClient is the River job queue client backed by Pool. It is only
	// available with PostgreSQL.
	RiverClient *river.Client[pgx.Tx]

	// Mongo is the MongoDB client. nil for other drivers.
	Mongo *mongo.Client

	pg *postgres.Store
	mg *mongostore.Store
}

// NewDatabaseClients opens the configured store backend.
func NewDatabaseClients(ctx context.Context, cfg config.DatabaseConfig) (*DatabaseClients, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return newPostgresClients(ctx, cfg)
	case config.DriverMongo:
		return newMongoClients(ctx, cfg.Mongo)
	case config.DriverMemory:
		logger.Warn("Using the in-memory store; data is lost on restart")
		return &DatabaseClients{Driver: config.DriverMemory, Store: memory.New()}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func newPostgresClients(ctx context.Context, cfg config.DatabaseConfig) (*DatabaseClients, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = time.Minute

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Database connection pool created",
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Int32("min_conns", cfg.MinConns),
	)

	pg := postgres.New(pool)
	return &DatabaseClients{
		Driver: config.DriverPostgres,
		Store:  pg,
		Pool:   pool,
		pg:     pg,
	}, nil
}

func newMongoClients(ctx context.Context, cfg config.MongoConfig) (*DatabaseClients, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	logger.Info("MongoDB client connected", zap.String("database", cfg.Database))

	// Indexes back the uniqueness guarantees, so they are not optional.
	mg := mongostore.New(client.Database(cfg.Database))
	if err := mg.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure mongo indexes: %w", err)
	}
	return &DatabaseClients{
		Driver: config.DriverMongo,
		Store:  mg,
		Mongo:  client,
		mg:     mg,
	}, nil
}

// SupportsRiver reports whether River can run on this backend.
func (c *DatabaseClients) SupportsRiver() bool {
	return c != nil && c.Pool != nil
}

// AutoMigrate creates the PostgreSQL notification tables and River queue
// tables. Only use in development; production applies schema.sql and River
// migrations out of band. MongoDB indexes are ensured on connect.
func (c *DatabaseClients) AutoMigrate(ctx context.Context) error {
	if c.pg != nil {
		logger.Info("Running notification schema migration...")
		if err := c.pg.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("Notification schema migration completed")

		logger.Info("Running River migration...")
		migrator, err := rivermigrate.New(riverpgxv5.New(c.Pool), nil)
		if err != nil {
			return fmt.Errorf("create river migrator: %w", err)
		}
		res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
		if err != nil {
			return fmt.Errorf("river migrate up: %w", err)
		}
		if len(res.Versions) > 0 {
			logger.Info("River migration completed",
				zap.Int("versions_applied", len(res.Versions)),
			)
		} else {
			logger.Info("River migration: already up-to-date")
		}
	}
	return nil
}

// InitRiverClient creates a River client with registered workers and
// periodic jobs. Called after NewDatabaseClients; workers come from
// bootstrap.
func (c *DatabaseClients) InitRiverClient(workers *river.Workers, periodic []*river.PeriodicJob, cfg config.RiverConfig) error {
	if !c.SupportsRiver() {
		return fmt.Errorf("river requires the %s driver, got %q", config.DriverPostgres, c.Driver)
	}
	riverClient, err := river.NewClient(riverpgxv5.New(c.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers:                     workers,
		PeriodicJobs:                periodic,
		CompletedJobRetentionPeriod: cfg.CompletedJobRetentionPeriod,
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	c.RiverClient = riverClient
	logger.Info("River client initialized",
		zap.Int("max_workers", cfg.MaxWorkers),
		zap.Int("periodic_jobs", len(periodic)),
	)
	return nil
}

// Ping checks the store backend.
func (c *DatabaseClients) Ping(ctx context.Context) error {
	if c == nil || c.Store == nil {
		return fmt.Errorf("database is not initialized")
	}
	return c.Store.Ping(ctx)
}

// Close closes all connections gracefully.
func (c *DatabaseClients) Close() {
	if c == nil {
		return
	}
	if c.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Mongo.Disconnect(ctx); err != nil {
			logger.Warn("MongoDB disconnect failed", zap.Error(err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
