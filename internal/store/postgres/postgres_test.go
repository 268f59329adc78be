package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"clientportal.io/portal/internal/store"
	"clientportal.io/portal/internal/store/storetest"
	"clientportal.io/portal/internal/testutil"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s := New(testutil.OpenPGXPool(t, "store_contract"))
		require.NoError(t, s.Migrate(context.Background()))
		return s
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	s := New(testutil.OpenPGXPool(t, "store_migrate"))
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Ping(ctx))
}
