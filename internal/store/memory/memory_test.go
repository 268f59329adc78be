package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/store"
	"clientportal.io/portal/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := domain.NewDefaultPreference("pref-1", "user-1", time.Now())
	require.NoError(t, s.CreatePreference(ctx, p))

	p.Categories[domain.CategoryMessages] = domain.CategoryPreference{Channels: domain.ChannelNone}

	got, err := s.GetPreference(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, domain.ChannelBoth, got.Categories[domain.CategoryMessages].Channels)

	got.IsEnabled = false
	again, err := s.GetPreference(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, again.IsEnabled)
}
