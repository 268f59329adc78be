package feed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/pkg/clock"
	apperrors "clientportal.io/portal/internal/pkg/errors"
	"clientportal.io/portal/internal/store/memory"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, st *memory.Store, userID string, count int) []string {
	t.Helper()
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("%s-n%02d", userID, i)
		require.NoError(t, st.CreateNotification(context.Background(), &domain.Notification{
			ID:        id,
			UserID:    userID,
			Type:      domain.CategoryGeneral,
			Title:     fmt.Sprintf("title %d", i),
			Message:   "message",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
		ids = append(ids, id)
	}
	return ids
}

func TestList_PagingAndOrder(t *testing.T) {
	st := memory.New()
	seed(t, st, "user-1", 25)
	p := NewProjection(st, clock.NewFixed(base))
	ctx := context.Background()

	page, err := p.List(ctx, "user-1", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, page.Limit)
	require.Len(t, page.Items, DefaultLimit)
	assert.Equal(t, "user-1-n24", page.Items[0].ID, "newest first")
	assert.Equal(t, 25, page.UnreadCount)

	page, err = p.List(ctx, "user-1", ListOptions{Limit: 500, Offset: 20})
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, page.Limit)
	assert.Len(t, page.Items, 5)

	page, err = p.List(ctx, "nobody", ListOptions{})
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
}

func TestUnreadCount_TracksReads(t *testing.T) {
	st := memory.New()
	ids := seed(t, st, "user-1", 5)
	seed(t, st, "user-2", 3)
	clk := clock.NewFixed(base)
	p := NewProjection(st, clk)
	ctx := context.Background()

	count, err := p.UnreadCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	require.NoError(t, p.MarkRead(ctx, ids[0], "user-1"))
	require.NoError(t, p.MarkRead(ctx, ids[1], "user-1"))
	count, err = p.UnreadCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	changed, err := p.MarkAllRead(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, changed)
	count, err = p.UnreadCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	changed, err = p.MarkAllRead(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, changed)

	other, err := p.UnreadCount(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, 3, other)
}

func TestMarkRead_IdempotentAndScoped(t *testing.T) {
	st := memory.New()
	ids := seed(t, st, "user-1", 1)
	clk := clock.NewFixed(base)
	p := NewProjection(st, clk)
	ctx := context.Background()

	require.NoError(t, p.MarkRead(ctx, ids[0], "user-1"))
	clk.Advance(time.Hour)
	require.NoError(t, p.MarkRead(ctx, ids[0], "user-1"))

	page, err := p.List(ctx, "user-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].IsRead)
	require.NotNil(t, page.Items[0].ReadAt)
	assert.Equal(t, base, *page.Items[0].ReadAt, "second call keeps readAt")

	err = p.MarkRead(ctx, ids[0], "user-2")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotificationNotFound))

	err = p.MarkRead(ctx, "missing", "user-1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotificationNotFound))
}

func TestList_UnreadOnly(t *testing.T) {
	st := memory.New()
	ids := seed(t, st, "user-1", 4)
	p := NewProjection(st, clock.NewFixed(base))
	ctx := context.Background()
	require.NoError(t, p.MarkRead(ctx, ids[3], "user-1"))

	page, err := p.List(ctx, "user-1", ListOptions{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	for _, n := range page.Items {
		assert.False(t, n.IsRead)
	}
}
