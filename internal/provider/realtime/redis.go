package realtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/config"
	"clientportal.io/portal/internal/pkg/logger"
)

// DefaultRedisChannelPrefix namespaces pub/sub channels.
const DefaultRedisChannelPrefix = "portal:realtime:"

// RedisPublisher publishes envelopes on Redis pub/sub so every server
// instance running a RedisRelay can push to its own websocket clients.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisPublisher creates a Redis publisher.
func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultRedisChannelPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Name implements Publisher.
func (*RedisPublisher) Name() string { return config.RealtimeProviderRedis }

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, topic, event string, payload any) error {
	data, err := encodeEnvelope(topic, event, payload)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.prefix+topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// RedisRelay forwards Redis pub/sub messages into a local Hub.
type RedisRelay struct {
	client redis.UniversalClient
	prefix string
	hub    *Hub
}

// NewRedisRelay creates a relay for channels under prefix.
func NewRedisRelay(client redis.UniversalClient, prefix string, hub *Hub) *RedisRelay {
	if prefix == "" {
		prefix = DefaultRedisChannelPrefix
	}
	return &RedisRelay{client: client, prefix: prefix, hub: hub}
}

// Run relays until ctx ends.
func (r *RedisRelay) Run(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, r.prefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe %s*: %w", r.prefix, err)
	}
	logger.Info("Realtime redis relay subscribed", zap.String("pattern", r.prefix+"*"))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.relay(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) relay(channel string, data []byte) {
	topic := strings.TrimPrefix(channel, r.prefix)
	if _, err := DecodeEnvelope(data); err != nil {
		logger.Warn("Discarding malformed realtime message",
			zap.String("channel", channel),
			zap.Error(err),
		)
		return
	}
	r.hub.Broadcast(topic, data)
}

var _ Publisher = (*RedisPublisher)(nil)
