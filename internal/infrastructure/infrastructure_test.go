package infrastructure

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientportal.io/portal/internal/config"
	"clientportal.io/portal/internal/pkg/worker"
	"clientportal.io/portal/internal/provider/realtime"
)

func TestNewDatabaseClients_Memory(t *testing.T) {
	ctx := context.Background()
	db, err := NewDatabaseClients(ctx, config.DatabaseConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, config.DriverMemory, db.Driver)
	assert.False(t, db.SupportsRiver())
	assert.NoError(t, db.Ping(ctx))
	assert.NoError(t, db.AutoMigrate(ctx))
	assert.Error(t, db.InitRiverClient(nil, nil, config.RiverConfig{}))
}

func TestNewDatabaseClients_UnknownDriver(t *testing.T) {
	_, err := NewDatabaseClients(context.Background(), config.DatabaseConfig{Driver: "sqlite"})
	require.Error(t, err)
}

func TestNewRealtimeClients_Hub(t *testing.T) {
	rc, err := NewRealtimeClients(context.Background(), config.RealtimeConfig{Provider: config.RealtimeProviderHub})
	require.NoError(t, err)
	defer rc.Close()

	assert.Same(t, rc.Hub, rc.Publisher.(*realtime.Hub))
	assert.NoError(t, rc.Ping(context.Background()))
	assert.NoError(t, rc.StartRelay(nil), "hub provider has no relay")
}

func TestNewRealtimeClients_UnknownProvider(t *testing.T) {
	_, err := NewRealtimeClients(context.Background(), config.RealtimeConfig{Provider: "kafka"})
	require.Error(t, err)
}

type flakyRelay struct{ runs atomic.Int32 }

func (f *flakyRelay) Run(ctx context.Context) error {
	if f.runs.Add(1) == 1 {
		return errors.New("connection reset")
	}
	<-ctx.Done()
	return nil
}

func TestStartRelay_ReconnectsAfterFailure(t *testing.T) {
	pools, err := worker.NewPools(context.Background(), worker.PoolConfig{GeneralPoolSize: 2, DeliveryPoolSize: 1})
	require.NoError(t, err)

	relay := &flakyRelay{}
	rc := &RealtimeClients{Provider: config.RealtimeProviderRedis, relay: relay}
	require.NoError(t, rc.StartRelay(pools))

	require.Eventually(t, func() bool { return relay.runs.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
	pools.Shutdown()
}
