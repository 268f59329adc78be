package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/config"
	"clientportal.io/portal/internal/pkg/logger"
	"clientportal.io/portal/internal/pkg/worker"
	"clientportal.io/portal/internal/provider/realtime"
)

// relayRetryDelay is the pause before a failed relay reconnects.
const relayRetryDelay = 2 * time.Second

type relayRunner interface {
	Run(ctx context.Context) error
}

// RealtimeClients holds the local websocket hub and the publisher the
// dispatcher pushes through. With the redis or amqp provider the publisher
// goes through the broker and a relay feeds the local hub, so any instance
// can reach any connected user.
type RealtimeClients struct {
	Provider  string
	Hub       *realtime.Hub
	Publisher realtime.Publisher

	Redis redis.UniversalClient
	AMQP  *amqp.Connection

	relay relayRunner
}

// NewRealtimeClients connects the configured realtime transport.
func NewRealtimeClients(ctx context.Context, cfg config.RealtimeConfig) (*RealtimeClients, error) {
	hub := realtime.NewHub(cfg.PingInterval, realtime.WithMaxConnections(cfg.MaxConnections))
	rc := &RealtimeClients{Provider: cfg.Provider, Hub: hub}

	switch cfg.Provider {
	case config.RealtimeProviderHub, "":
		rc.Provider = config.RealtimeProviderHub
		rc.Publisher = hub
	case config.RealtimeProviderRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		rc.Redis = client
		rc.Publisher = realtime.NewRedisPublisher(client, cfg.RedisChannelPrefix)
		rc.relay = realtime.NewRedisRelay(client, cfg.RedisChannelPrefix, hub)
	case config.RealtimeProviderAMQP:
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			return nil, fmt.Errorf("dial amqp: %w", err)
		}
		publisher, err := realtime.NewAMQPPublisher(conn, cfg.AMQPExchange)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		rc.AMQP = conn
		rc.Publisher = publisher
		rc.relay = realtime.NewAMQPRelay(conn, cfg.AMQPExchange, hub)
	default:
		return nil, fmt.Errorf("unsupported realtime provider %q", cfg.Provider)
	}

	logger.Info("Realtime transport ready", zap.String("provider", rc.Provider))
	return rc, nil
}

// StartRelay runs the broker relay on the general pool until the pools shut
// down, reconnecting after failures. It is a no-op for the hub provider.
func (r *RealtimeClients) StartRelay(pools *worker.Pools) error {
	if r == nil || r.relay == nil {
		return nil
	}
	if pools == nil {
		return errors.New("worker pools are not initialized")
	}
	return pools.SubmitDetached(worker.PoolGeneral, func(ctx context.Context) {
		for {
			err := r.relay.Run(ctx)
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Realtime relay stopped, reconnecting",
				zap.String("provider", r.Provider),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(relayRetryDelay):
			}
		}
	})
}

// Ping checks the broker connection.
func (r *RealtimeClients) Ping(ctx context.Context) error {
	switch {
	case r == nil:
		return errors.New("realtime transport is not initialized")
	case r.Redis != nil:
		return r.Redis.Ping(ctx).Err()
	case r.AMQP != nil && r.AMQP.IsClosed():
		return errors.New("amqp connection is closed")
	}
	return nil
}

// Close releases broker connections and the hub's connection pool.
func (r *RealtimeClients) Close() {
	if r == nil {
		return
	}
	if err := r.Hub.Close(); err != nil {
		logger.Warn("Realtime hub close timed out", zap.Error(err))
	}
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			logger.Warn("Redis close failed", zap.Error(err))
		}
	}
	if r.AMQP != nil && !r.AMQP.IsClosed() {
		if err := r.AMQP.Close(); err != nil {
			logger.Warn("AMQP close failed", zap.Error(err))
		}
	}
}
