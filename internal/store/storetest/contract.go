// Package storetest holds the behavioural contract every store backend must
// satisfy. Backend packages call Run from their own tests.
//
// Import Path: clientportal.io/portal/internal/store/storetest
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

// base is second-aligned so every backend round-trips it exactly.
var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Run executes the contract suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("preferences", func(t *testing.T) { testPreferences(t, newStore(t)) })
	t.Run("notifications", func(t *testing.T) { testNotifications(t, newStore(t)) })
	t.Run("idempotency", func(t *testing.T) { testIdempotency(t, newStore(t)) })
	t.Run("digest rows", func(t *testing.T) { testDigestRows(t, newStore(t)) })
	t.Run("windows", func(t *testing.T) { testWindows(t, newStore(t)) })
	t.Run("contacts", func(t *testing.T) { testContacts(t, newStore(t)) })
}

func newNotification(userID string, createdAt time.Time) *domain.Notification {
	return &domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      domain.CategoryMessages,
		Title:     "New message",
		Message:   "You have a new message",
		CreatedAt: createdAt,
	}
}

func testPreferences(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetPreference(ctx, "user-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	p := domain.NewDefaultPreference(uuid.NewString(), "user-1", base)
	require.NoError(t, s.CreatePreference(ctx, p))

	dup := domain.NewDefaultPreference(uuid.NewString(), "user-1", base)
	require.ErrorIs(t, s.CreatePreference(ctx, dup), store.ErrAlreadyExists)

	got, err := s.GetPreference(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.True(t, got.IsEnabled)
	assert.Equal(t, domain.DigestInstant, got.DigestFrequency)
	assert.Equal(t, domain.DefaultCategoryPreferences(), got.Categories)
	assert.Equal(t, int64(1), got.Version)

	got.DigestFrequency = domain.DigestWeekly
	got.EmailDigestTime = "08:30"
	got.EmailDigestDays = []string{"monday", "thursday"}
	got.QuietHoursEnabled = true
	got.QuietHoursStart = "22:00"
	got.QuietHoursEnd = "06:00"
	got.Timezone = "Europe/Berlin"
	got.Categories[domain.CategoryTasks] = domain.CategoryPreference{Enabled: false, Channels: domain.ChannelNone}
	got.Version = 2
	got.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, s.UpdatePreference(ctx, got, 1))

	stale := got.Clone()
	stale.Version = 2
	require.ErrorIs(t, s.UpdatePreference(ctx, stale, 1), store.ErrConflict)

	missing := domain.NewDefaultPreference(uuid.NewString(), "nobody", base)
	require.ErrorIs(t, s.UpdatePreference(ctx, missing, 1), store.ErrNotFound)

	reloaded, err := s.GetPreference(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), reloaded.Version)
	assert.Equal(t, domain.DigestWeekly, reloaded.DigestFrequency)
	assert.Equal(t, "08:30", reloaded.EmailDigestTime)
	assert.Equal(t, []string{"monday", "thursday"}, reloaded.EmailDigestDays)
	assert.True(t, reloaded.QuietHoursEnabled)
	assert.Equal(t, "22:00", reloaded.QuietHoursStart)
	assert.Equal(t, "06:00", reloaded.QuietHoursEnd)
	assert.Equal(t, "Europe/Berlin", reloaded.Timezone)
	assert.Equal(t, domain.CategoryPreference{Enabled: false, Channels: domain.ChannelNone}, reloaded.Categories[domain.CategoryTasks])
	assert.True(t, reloaded.UpdatedAt.Equal(base.Add(time.Minute)))
}

func testNotifications(t *testing.T, s store.Store) {
	ctx := context.Background()

	first := newNotification("user-1", base)
	second := newNotification("user-1", base.Add(time.Minute))
	second.ProjectID = "project-9"
	second.Link = "/projects/project-9"
	third := newNotification("user-1", base.Add(2*time.Minute))
	other := newNotification("user-2", base.Add(3*time.Minute))
	for _, n := range []*domain.Notification{first, second, third, other} {
		require.NoError(t, s.CreateNotification(ctx, n))
	}

	list, err := s.ListNotifications(ctx, "user-1", store.ListFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, ids(list))
	assert.Equal(t, "project-9", list[1].ProjectID)
	assert.Equal(t, "/projects/project-9", list[1].Link)
	assert.Empty(t, list[0].ProjectID)

	page, err := s.ListNotifications(ctx, "user-1", store.ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, ids(page))

	count, err := s.CountUnread(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	readAt := base.Add(time.Hour)
	changed, err := s.MarkRead(ctx, second.ID, "user-1", readAt)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.MarkRead(ctx, second.ID, "user-1", readAt.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed, "second markRead must be a no-op")

	_, err = s.MarkRead(ctx, second.ID, "user-2", readAt)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.MarkRead(ctx, uuid.NewString(), "user-1", readAt)
	require.ErrorIs(t, err, store.ErrNotFound)

	list, err = s.ListNotifications(ctx, "user-1", store.ListFilter{Limit: 10})
	require.NoError(t, err)
	require.NotNil(t, list[1].ReadAt)
	assert.True(t, list[1].IsRead)
	assert.True(t, list[1].ReadAt.Equal(readAt), "readAt must not move on repeated markRead")

	unread, err := s.ListNotifications(ctx, "user-1", store.ListFilter{Limit: 10, UnreadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID, first.ID}, ids(unread))

	count, err = s.CountUnread(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	updated, err := s.MarkAllRead(ctx, "user-1", readAt)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	updated, err = s.MarkAllRead(ctx, "user-1", readAt)
	require.NoError(t, err)
	assert.Equal(t, 0, updated)

	count, err = s.CountUnread(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = s.CountUnread(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "other users are unaffected")

	deleted, err := s.DeleteReadBefore(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	list, err = s.ListNotifications(ctx, "user-1", store.ListFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID}, ids(list))
}

func testIdempotency(t *testing.T, s store.Store) {
	ctx := context.Background()

	n := newNotification("user-1", base)
	n.IdempotencyKey = "msg-42"
	require.NoError(t, s.CreateNotification(ctx, n))

	dup := newNotification("user-1", base.Add(time.Second))
	dup.IdempotencyKey = "msg-42"
	require.ErrorIs(t, s.CreateNotification(ctx, dup), store.ErrAlreadyExists)

	sameKeyOtherUser := newNotification("user-2", base)
	sameKeyOtherUser.IdempotencyKey = "msg-42"
	require.NoError(t, s.CreateNotification(ctx, sameKeyOtherUser))

	got, err := s.GetNotificationByIdempotencyKey(ctx, "user-1", "msg-42")
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)

	_, err = s.GetNotificationByIdempotencyKey(ctx, "user-1", "unknown")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Rows without a key never collide.
	require.NoError(t, s.CreateNotification(ctx, newNotification("user-1", base)))
	require.NoError(t, s.CreateNotification(ctx, newNotification("user-1", base)))
}

func testDigestRows(t *testing.T, s store.Store) {
	ctx := context.Background()

	inWindow := newNotification("user-1", base.Add(10*time.Minute))
	inWindow.Digest = true
	atEnd := newNotification("user-1", base.Add(time.Hour))
	atEnd.Digest = true
	notDigest := newNotification("user-1", base.Add(20*time.Minute))
	otherUser := newNotification("user-2", base.Add(10*time.Minute))
	otherUser.Digest = true
	for _, n := range []*domain.Notification{inWindow, atEnd, notDigest, otherUser} {
		require.NoError(t, s.CreateNotification(ctx, n))
	}

	rows, err := s.ListDigestNotifications(ctx, "user-1", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{inWindow.ID}, ids(rows))

	has, err := s.HasDigestNotificationsSince(ctx, "user-1", base.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasDigestNotificationsSince(ctx, "user-1", base.Add(time.Hour+time.Second))
	require.NoError(t, err)
	assert.False(t, has)
}

func testWindows(t *testing.T, s store.Store) {
	ctx := context.Background()

	w := &domain.DigestWindow{
		ID:          uuid.NewString(),
		UserID:      "user-1",
		Frequency:   domain.DigestHourly,
		WindowStart: base,
		WindowEnd:   base.Add(time.Hour),
		CreatedAt:   base,
	}
	require.NoError(t, s.CreateWindow(ctx, w))

	second := *w
	second.ID = uuid.NewString()
	require.ErrorIs(t, s.CreateWindow(ctx, &second), store.ErrAlreadyExists)

	daily := &domain.DigestWindow{
		ID:          uuid.NewString(),
		UserID:      "user-1",
		Frequency:   domain.DigestDaily,
		WindowStart: base,
		WindowEnd:   base.Add(24 * time.Hour),
		CreatedAt:   base,
	}
	require.NoError(t, s.CreateWindow(ctx, daily), "different frequency may be open concurrently")

	open, err := s.GetOpenWindow(ctx, "user-1", domain.DigestHourly)
	require.NoError(t, err)
	assert.Equal(t, w.ID, open.ID)
	assert.True(t, open.WindowEnd.Equal(base.Add(time.Hour)))

	_, err = s.GetOpenWindow(ctx, "user-1", domain.DigestWeekly)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.ExtendWindowStart(ctx, "user-1", domain.DigestHourly, base.Add(-5*time.Minute)))
	require.NoError(t, s.ExtendWindowStart(ctx, "user-1", domain.DigestHourly, base.Add(5*time.Minute)))
	open, err = s.GetOpenWindow(ctx, "user-1", domain.DigestHourly)
	require.NoError(t, err)
	assert.True(t, open.WindowStart.Equal(base.Add(-5*time.Minute)), "start only moves earlier")

	due, err := s.ListDueWindows(ctx, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	now := base.Add(time.Hour)
	due, err = s.ListDueWindows(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, w.ID, due[0].ID)

	won, err := s.ClaimWindow(ctx, w.ID, now, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.ClaimWindow(ctx, w.ID, now.Add(time.Second), now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.False(t, won, "live lease blocks a second claimer")

	due, err = s.ListDueWindows(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "claimed windows are not listed")

	require.NoError(t, s.ReleaseWindow(ctx, w.ID, "smtp timeout"))
	open, err = s.GetOpenWindow(ctx, "user-1", domain.DigestHourly)
	require.NoError(t, err)
	assert.Equal(t, 1, open.Attempts)
	assert.Equal(t, "smtp timeout", open.LastError)
	assert.Nil(t, open.ClaimedUntil)

	won, err = s.ClaimWindow(ctx, w.ID, now.Add(time.Minute), now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.True(t, won)

	expired, err := s.ClaimWindow(ctx, w.ID, now.Add(4*time.Minute), now.Add(6*time.Minute))
	require.NoError(t, err)
	assert.True(t, expired, "an expired lease can be taken over")

	set, err := s.MarkDelivered(ctx, w.ID, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.True(t, set)

	set, err = s.MarkDelivered(ctx, w.ID, now.Add(6*time.Minute))
	require.NoError(t, err)
	assert.False(t, set, "deliveredAt is only set once")

	won, err = s.ClaimWindow(ctx, w.ID, now.Add(10*time.Minute), now.Add(12*time.Minute))
	require.NoError(t, err)
	assert.False(t, won, "delivered windows cannot be claimed")

	_, err = s.GetOpenWindow(ctx, "user-1", domain.DigestHourly)
	require.ErrorIs(t, err, store.ErrNotFound)

	next := &domain.DigestWindow{
		ID:          uuid.NewString(),
		UserID:      "user-1",
		Frequency:   domain.DigestHourly,
		WindowStart: now,
		WindowEnd:   now.Add(time.Hour),
		CreatedAt:   now,
	}
	require.NoError(t, s.CreateWindow(ctx, next), "a new window may open once the previous one is delivered")
}

func testContacts(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetContact(ctx, "user-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	c := domain.Contact{UserID: "user-1", Email: "ada@example.com", Name: "Ada", EmailVerified: true}
	require.NoError(t, s.UpsertContact(ctx, c))

	c.Name = "Ada L."
	require.NoError(t, s.UpsertContact(ctx, c))

	got, err := s.GetContact(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func ids(ns []*domain.Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.ID)
	}
	return out
}
