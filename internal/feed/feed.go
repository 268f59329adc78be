// Package feed serves a user's in-app notification feed straight from the
// canonical rows. Unread counts are never cached.
//
// Import Path: clientportal.io/portal/internal/feed
package feed

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/pkg/clock"
	apperrors "clientportal.io/portal/internal/pkg/errors"
	"clientportal.io/portal/internal/pkg/logger"
	"clientportal.io/portal/internal/store"
)

// Page size bounds.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ListOptions selects a page of the feed.
type ListOptions struct {
	Limit      int
	Offset     int
	UnreadOnly bool
}

func (o ListOptions) normalize() ListOptions {
	switch {
	case o.Limit <= 0:
		o.Limit = DefaultLimit
	case o.Limit > MaxLimit:
		o.Limit = MaxLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// Page is one page of notifications plus the live unread count.
type Page struct {
	Items       []*domain.Notification `json:"items"`
	UnreadCount int                    `json:"unreadCount"`
	Limit       int                    `json:"limit"`
	Offset      int                    `json:"offset"`
}

// Projection reads and updates read state.
type Projection struct {
	repo  store.NotificationRepository
	clock clock.Clock
}

// NewProjection creates a feed projection.
func NewProjection(repo store.NotificationRepository, clk clock.Clock) *Projection {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Projection{repo: repo, clock: clk}
}

// List returns the user's notifications, newest first.
func (p *Projection) List(ctx context.Context, userID string, opts ListOptions) (*Page, error) {
	opts = opts.normalize()
	items, err := p.repo.ListNotifications(ctx, userID, store.ListFilter{
		Limit:      opts.Limit,
		Offset:     opts.Offset,
		UnreadOnly: opts.UnreadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("list notifications for %s: %w", userID, err)
	}
	unread, err := p.UnreadCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*domain.Notification{}
	}
	return &Page{Items: items, UnreadCount: unread, Limit: opts.Limit, Offset: opts.Offset}, nil
}

// UnreadCount counts the user's unread notifications.
func (p *Projection) UnreadCount(ctx context.Context, userID string) (int, error) {
	n, err := p.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread for %s: %w", userID, err)
	}
	return n, nil
}

// MarkRead marks one of the user's notifications read. Marking an already
// read notification is a no-op and keeps its readAt.
func (p *Projection) MarkRead(ctx context.Context, notificationID, userID string) error {
	changed, err := p.repo.MarkRead(ctx, notificationID, userID, p.clock.Now())
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.ErrNotificationNotFoundf(notificationID)
	}
	if err != nil {
		return fmt.Errorf("mark notification %s read: %w", notificationID, err)
	}
	if changed {
		logger.Debug("Notification marked read",
			zap.String("notification_id", notificationID),
			zap.String("user_id", userID),
		)
	}
	return nil
}

// MarkAllRead marks every unread notification of the user read and returns
// how many changed.
func (p *Projection) MarkAllRead(ctx context.Context, userID string) (int, error) {
	n, err := p.repo.MarkAllRead(ctx, userID, p.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("mark all read for %s: %w", userID, err)
	}
	return n, nil
}
