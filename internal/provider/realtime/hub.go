package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/config"
	"clientportal.io/portal/internal/pkg/logger"
	"clientportal.io/portal/internal/pkg/worker"
)

const (
	writeWait       = 10 * time.Second
	maxMessageSize  = 512
	subscriberQueue = 32

	// DefaultMaxConnections caps concurrently served websocket connections.
	DefaultMaxConnections = 10000
)

// Hub fans messages out to in-process subscribers, usually websocket
// connections. A Hub is also a Publisher for single-instance deployments.
type Hub struct {
	mu           sync.RWMutex
	topics       map[string]map[*Subscription]struct{}
	pingInterval time.Duration
	maxConns     int

	// conns runs one read pump per served connection. It never queues: a
	// full pool turns the connection away.
	conns *worker.Pool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithMaxConnections caps concurrently served connections. n <= 0 keeps
// DefaultMaxConnections.
func WithMaxConnections(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.maxConns = n
		}
	}
}

// NewHub creates a hub. pingInterval <= 0 uses 30s.
func NewHub(pingInterval time.Duration, opts ...HubOption) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	h := &Hub{
		topics:       make(map[string]map[*Subscription]struct{}),
		pingInterval: pingInterval,
		maxConns:     DefaultMaxConnections,
	}
	for _, opt := range opts {
		opt(h)
	}

	conns, err := worker.NewPool(worker.PoolRealtime, h.maxConns, ants.WithNonblocking(true))
	if err != nil {
		// ServeConn turns every connection away on a nil pool.
		logger.Error("Realtime connection pool unavailable", zap.Error(err))
	}
	h.conns = conns
	return h
}

// Close stops accepting connections and waits briefly for read pumps of
// connections that are still open.
func (h *Hub) Close() error {
	if h == nil {
		return nil
	}
	return h.conns.Release(5 * time.Second)
}

// Subscription receives encoded envelopes for one topic.
type Subscription struct {
	topic string
	ch    chan []byte
	hub   *Hub
	once  sync.Once
}

// C returns the delivery channel. It is closed by Close or when the hub
// drops a subscriber that cannot keep up.
func (s *Subscription) C() <-chan []byte { return s.ch }

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Subscribe registers a subscriber for topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{topic: topic, ch: make(chan []byte, subscriberQueue), hub: h}
	h.mu.Lock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Subscription]struct{})
	}
	h.topics[topic][sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	if subs, ok := h.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	h.mu.Unlock()
	sub.once.Do(func() { close(sub.ch) })
}

// Subscribers returns the number of live subscribers on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Name implements Publisher.
func (*Hub) Name() string { return config.RealtimeProviderHub }

// Publish implements Publisher by delivering to local subscribers only.
func (h *Hub) Publish(ctx context.Context, topic, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeEnvelope(topic, event, payload)
	if err != nil {
		return err
	}
	h.Broadcast(topic, data)
	return nil
}

// Broadcast delivers an encoded envelope to local subscribers and returns
// how many received it. Subscribers with a full queue are dropped.
func (h *Hub) Broadcast(topic string, data []byte) int {
	var slow []*Subscription
	delivered := 0

	h.mu.RLock()
	for sub := range h.topics[topic] {
		select {
		case sub.ch <- data:
			delivered++
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		logger.Warn("Dropping slow realtime subscriber", zap.String("topic", topic))
		sub.Close()
	}
	return delivered
}

// ServeConn pumps topic messages to conn until the peer disconnects or ctx
// ends. The connection is closed on return. When the hub is at its
// connection cap the peer gets a try-again-later close instead.
func (h *Hub) ServeConn(ctx context.Context, conn *websocket.Conn, topic string) {
	sub := h.Subscribe(topic)
	defer sub.Close()
	defer conn.Close()

	readerDone := make(chan struct{})
	err := h.conns.Submit(ctx, func(context.Context) {
		defer close(readerDone)
		h.readPump(conn)
	})
	if err != nil {
		logger.Warn("Realtime connection turned away",
			zap.String("topic", topic),
			zap.Error(err),
		)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"),
			time.Now().Add(writeWait))
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	logger.Debug("Realtime subscriber connected", zap.String("topic", topic))
	defer logger.Debug("Realtime subscriber disconnected", zap.String("topic", topic))

	for {
		select {
		case data, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber too slow"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-readerDone:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

// readPump discards client frames and keeps the read deadline moving on
// pongs. It returns once the peer is gone.
func (h *Hub) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

var _ Publisher = (*Hub)(nil)
