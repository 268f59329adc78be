package mongo

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
		s := New(testutil.OpenMongo(t, "store_contract"))
		require.NoError(t, s.EnsureIndexes(context.Background()))
		return s
	})
}
