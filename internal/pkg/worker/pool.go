// Package worker provides goroutine pool management.
//
// Naked goroutines are not used outside main and tests; concurrency goes
// through a Pool with context propagation.
//
// Import Path: clientportal.io/portal/internal/pkg/worker
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool names. SubmitDetached accepts general and delivery; realtime is the
// per-connection pool owned by the websocket hub.
const (
	PoolGeneral  = "general"
	PoolDelivery = "delivery"
	PoolRealtime = "realtime"
)

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the worker pool collection.
//
// General runs detached background work (digest ticker, websocket relay).
// Delivery runs outbound channel fan-out (email, realtime push).
type Pools struct {
	General  *Pool
	Delivery *Pool

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains worker pool configuration.
type PoolConfig struct {
	GeneralPoolSize  int
	DeliveryPoolSize int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		GeneralPoolSize:  50,
		DeliveryPoolSize: 200,
	}
}

// NewPool creates a single named pool. Used directly by tests, the
// digest-flush CLI and the websocket hub, which do not need the full
// collection. opts are applied after the defaults.
func NewPool(name string, size int, opts ...ants.Option) (*Pool, error) {
	base := []ants.Option{
		ants.WithPanicHandler(panicHandler(name)),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10 * time.Second),
	}
	p, err := ants.NewPool(size, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p, name: name}, nil
}

// NewPools creates the worker pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	general, err := NewPool(PoolGeneral, cfg.GeneralPoolSize)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	delivery, err := NewPool(PoolDelivery, cfg.DeliveryPoolSize)
	if err != nil {
		general.pool.Release()
		serviceCancel()
		return nil, err
	}

	return &Pools{
		General:       general,
		Delivery:      delivery,
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

func panicHandler(name string) func(interface{}) {
	return func(p interface{}) {
		logger.Error("Worker panic recovered",
			zap.String("pool", name),
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}
}

// Submit submits a context-aware task.
// If the context is already cancelled, returns ctx.Err() without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if p == nil || p.pool == nil || p.pool.IsClosed() {
		return ErrPoolClosed
	}

	return p.pool.Submit(func() {
		select {
		case <-ctx.Done():
			logger.Debug("Task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
}

// RunAll runs tasks concurrently and blocks until every task returns.
// A task the pool refuses (closed, overloaded) runs inline so no work is
// silently dropped. A nil pool runs every task inline.
func (p *Pool) RunAll(ctx context.Context, tasks ...Task) {
	var wg sync.WaitGroup
	for _, task := range tasks {
		if task == nil {
			continue
		}
		wg.Add(1)
		run := func(ctx context.Context) {
			defer wg.Done()
			task(ctx)
		}
		if p == nil || p.pool == nil {
			run(ctx)
			continue
		}
		if err := p.pool.Submit(func() { run(ctx) }); err != nil {
			logger.Debug("Pool refused task, running inline",
				zap.String("pool", p.name),
				zap.Error(err),
			)
			run(ctx)
		}
	}
	wg.Wait()
}

// Release releases a standalone pool.
func (p *Pool) Release(timeout time.Duration) error {
	if p == nil || p.pool == nil {
		return nil
	}
	return p.pool.ReleaseTimeout(timeout)
}

// SubmitDetached submits a background task that uses the service lifecycle
// context instead of a request context. It survives request cancellation
// but still stops on graceful shutdown.
func (p *Pools) SubmitDetached(poolName string, task Task) error {
	var pool *Pool
	switch poolName {
	case PoolDelivery:
		pool = p.Delivery
	default:
		pool = p.General
	}

	return pool.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			logger.Debug("Detached task skipped: service shutting down",
				zap.String("pool", poolName),
			)
			return
		default:
		}
		task(p.serviceCtx)
	})
}

// Shutdown cancels the service context, then waits for running tasks (max 30s).
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	if err := p.General.Release(shutdownTimeout); err != nil {
		logger.Warn("General pool shutdown timeout", zap.Error(err))
	}
	if err := p.Delivery.Release(shutdownTimeout); err != nil {
		logger.Warn("Delivery pool shutdown timeout", zap.Error(err))
	}
}

// Stats returns running/free/cap for one pool.
func (p *Pool) Stats() map[string]int {
	if p == nil || p.pool == nil {
		return map[string]int{"running": 0, "free": 0, "cap": 0}
	}
	return map[string]int{
		"running": p.pool.Running(),
		"free":    p.pool.Free(),
		"cap":     p.pool.Cap(),
	}
}

// Metrics returns pool metrics for the readiness endpoint.
func (p *Pools) Metrics() map[string]any {
	return map[string]any{
		PoolGeneral:  p.General.Stats(),
		PoolDelivery: p.Delivery.Stats(),
	}
}
