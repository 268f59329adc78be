// Package store defines the persistence contracts of the notification
// engine. Backends live in the memory, postgres and mongo subpackages.
//
// Import Path: clientportal.io/portal/internal/store
package store

import (
	"context"
	"errors"
	"time"

	"clientportal.io/portal/internal/domain"
)

// Backend errors. Implementations wrap or return these directly so callers
// can match with errors.Is.
var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrConflict      = errors.New("store: version conflict")
)

// ListFilter selects a page of a user's notifications, newest first.
type ListFilter struct {
	Limit      int
	Offset     int
	UnreadOnly bool
}

// PreferenceRepository persists one Preference per user.
type PreferenceRepository interface {
	// GetPreference returns ErrNotFound when the user has no record.
	GetPreference(ctx context.Context, userID string) (*domain.Preference, error)
	// CreatePreference returns ErrAlreadyExists when the user already has a
	// record.
	CreatePreference(ctx context.Context, p *domain.Preference) error
	// UpdatePreference replaces the record if its stored version equals
	// expectedVersion. It returns ErrNotFound when the user has no record and
	// ErrConflict when the version moved.
	UpdatePreference(ctx context.Context, p *domain.Preference, expectedVersion int64) error
}

// NotificationRepository persists canonical notifications.
type NotificationRepository interface {
	// CreateNotification returns ErrAlreadyExists when (userID,
	// idempotencyKey) is already stored.
	CreateNotification(ctx context.Context, n *domain.Notification) error
	GetNotificationByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Notification, error)
	ListNotifications(ctx context.Context, userID string, filter ListFilter) ([]*domain.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	// MarkRead sets read state on an unread row owned by userID. It reports
	// whether a row changed and returns ErrNotFound when no such row exists
	// for the user.
	MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error)
	// ListDigestNotifications returns digest rows with createdAt in
	// [from, to), oldest first.
	ListDigestNotifications(ctx context.Context, userID string, from, to time.Time) ([]*domain.Notification, error)
	// HasDigestNotificationsSince reports whether any digest row has
	// createdAt >= from.
	HasDigestNotificationsSince(ctx context.Context, userID string, from time.Time) (bool, error)
	// DeleteReadBefore removes read rows created before cutoff.
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DigestWindowRepository persists digest windows. At most one undelivered
// window exists per (user, frequency).
type DigestWindowRepository interface {
	// CreateWindow returns ErrAlreadyExists when an undelivered window for
	// the same (user, frequency) exists.
	CreateWindow(ctx context.Context, w *domain.DigestWindow) error
	GetOpenWindow(ctx context.Context, userID string, frequency domain.DigestFrequency) (*domain.DigestWindow, error)
	// ExtendWindowStart moves the open window's start back to start when it
	// is currently later. It is a no-op otherwise.
	ExtendWindowStart(ctx context.Context, userID string, frequency domain.DigestFrequency, start time.Time) error
	// ListDueWindows returns undelivered, unclaimed windows with
	// windowEnd <= now, oldest first.
	ListDueWindows(ctx context.Context, now time.Time, limit int) ([]*domain.DigestWindow, error)
	// ClaimWindow leases an undelivered window until the given time if no
	// live lease exists. It reports whether the claim was won.
	ClaimWindow(ctx context.Context, id string, now, until time.Time) (bool, error)
	// MarkDelivered sets deliveredAt only if it is still unset and reports
	// whether this call set it.
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)
	// ReleaseWindow drops the lease and records a failed attempt.
	ReleaseWindow(ctx context.Context, id string, lastError string) error
}

// ContactDirectory resolves recipient contact information.
type ContactDirectory interface {
	// GetContact returns ErrNotFound for unknown users.
	GetContact(ctx context.Context, userID string) (domain.Contact, error)
}

// Store is a complete backend.
type Store interface {
	PreferenceRepository
	NotificationRepository
	DigestWindowRepository
	ContactDirectory

	// UpsertContact writes a directory entry. Used by directory sync and
	// tests.
	UpsertContact(ctx context.Context, c domain.Contact) error
	Ping(ctx context.Context) error
}
