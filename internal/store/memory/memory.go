// Package memory is an in-process store backend for development and tests.
//
// Import Path: clientportal.io/portal/internal/store/memory
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/store"
)

type windowKey struct {
	userID    string
	frequency domain.DigestFrequency
}

// Store keeps everything in maps behind one mutex. Values are cloned on the
// way in and out so callers never share state with the store.
type Store struct {
	mu            sync.Mutex
	preferences   map[string]*domain.Preference
	notifications map[string]*domain.Notification
	idempotency   map[string]string // userID + "\x00" + key -> notification id
	windows       map[string]*domain.DigestWindow
	openWindows   map[windowKey]string
	contacts      map[string]domain.Contact
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		preferences:   make(map[string]*domain.Preference),
		notifications: make(map[string]*domain.Notification),
		idempotency:   make(map[string]string),
		windows:       make(map[string]*domain.DigestWindow),
		openWindows:   make(map[windowKey]string),
		contacts:      make(map[string]domain.Contact),
	}
}

func idempotencyIndex(userID, key string) string {
	return userID + "\x00" + key
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// GetPreference implements store.PreferenceRepository.
func (s *Store) GetPreference(_ context.Context, userID string) (*domain.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.preferences[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p.Clone(), nil
}

// CreatePreference implements store.PreferenceRepository.
func (s *Store) CreatePreference(_ context.Context, p *domain.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.preferences[p.UserID]; ok {
		return store.ErrAlreadyExists
	}
	s.preferences[p.UserID] = p.Clone()
	return nil
}

// UpdatePreference implements store.PreferenceRepository.
func (s *Store) UpdatePreference(_ context.Context, p *domain.Preference, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.preferences[p.UserID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return store.ErrConflict
	}
	s.preferences[p.UserID] = p.Clone()
	return nil
}

// CreateNotification implements store.NotificationRepository.
func (s *Store) CreateNotification(_ context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[n.ID]; ok {
		return store.ErrAlreadyExists
	}
	if n.IdempotencyKey != "" {
		idx := idempotencyIndex(n.UserID, n.IdempotencyKey)
		if _, ok := s.idempotency[idx]; ok {
			return store.ErrAlreadyExists
		}
		s.idempotency[idx] = n.ID
	}
	s.notifications[n.ID] = n.Clone()
	return nil
}

// GetNotificationByIdempotencyKey implements store.NotificationRepository.
func (s *Store) GetNotificationByIdempotencyKey(_ context.Context, userID, key string) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.idempotency[idempotencyIndex(userID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.notifications[id].Clone(), nil
}

// userNotifications returns the user's rows newest first. Caller holds mu.
func (s *Store) userNotifications(userID string) []*domain.Notification {
	var out []*domain.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ListNotifications implements store.NotificationRepository.
func (s *Store) ListNotifications(_ context.Context, userID string, filter store.ListFilter) ([]*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.Notification
	for _, n := range s.userNotifications(userID) {
		if filter.UnreadOnly && n.IsRead {
			continue
		}
		matched = append(matched, n)
	}

	if filter.Offset >= len(matched) {
		return []*domain.Notification{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	out := make([]*domain.Notification, 0, len(matched))
	for _, n := range matched {
		out = append(out, n.Clone())
	}
	return out, nil
}

// CountUnread implements store.NotificationRepository.
func (s *Store) CountUnread(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

// MarkRead implements store.NotificationRepository.
func (s *Store) MarkRead(_ context.Context, id, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return false, store.ErrNotFound
	}
	if n.IsRead {
		return false, nil
	}
	n.IsRead = true
	readAt := at
	n.ReadAt = &readAt
	return true, nil
}

// MarkAllRead implements store.NotificationRepository.
func (s *Store) MarkAllRead(_ context.Context, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := 0
	for _, n := range s.notifications {
		if n.UserID != userID || n.IsRead {
			continue
		}
		n.IsRead = true
		readAt := at
		n.ReadAt = &readAt
		updated++
	}
	return updated, nil
}

// ListDigestNotifications implements store.NotificationRepository.
func (s *Store) ListDigestNotifications(_ context.Context, userID string, from, to time.Time) ([]*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Notification
	for _, n := range s.notifications {
		if n.UserID != userID || !n.Digest {
			continue
		}
		if n.CreatedAt.Before(from) || !n.CreatedAt.Before(to) {
			continue
		}
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// HasDigestNotificationsSince implements store.NotificationRepository.
func (s *Store) HasDigestNotificationsSince(_ context.Context, userID string, from time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n.UserID == userID && n.Digest && !n.CreatedAt.Before(from) {
			return true, nil
		}
	}
	return false, nil
}

// DeleteReadBefore implements store.NotificationRepository.
func (s *Store) DeleteReadBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, n := range s.notifications {
		if !n.IsRead || !n.CreatedAt.Before(cutoff) {
			continue
		}
		if n.IdempotencyKey != "" {
			delete(s.idempotency, idempotencyIndex(n.UserID, n.IdempotencyKey))
		}
		delete(s.notifications, id)
		deleted++
	}
	return deleted, nil
}

// CreateWindow implements store.DigestWindowRepository.
func (s *Store) CreateWindow(_ context.Context, w *domain.DigestWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := windowKey{userID: w.UserID, frequency: w.Frequency}
	if _, ok := s.openWindows[key]; ok && w.DeliveredAt == nil {
		return store.ErrAlreadyExists
	}
	if _, ok := s.windows[w.ID]; ok {
		return store.ErrAlreadyExists
	}
	s.windows[w.ID] = w.Clone()
	if w.DeliveredAt == nil {
		s.openWindows[key] = w.ID
	}
	return nil
}

// GetOpenWindow implements store.DigestWindowRepository.
func (s *Store) GetOpenWindow(_ context.Context, userID string, frequency domain.DigestFrequency) (*domain.DigestWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.openWindows[windowKey{userID: userID, frequency: frequency}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.windows[id].Clone(), nil
}

// ExtendWindowStart implements store.DigestWindowRepository.
func (s *Store) ExtendWindowStart(_ context.Context, userID string, frequency domain.DigestFrequency, start time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.openWindows[windowKey{userID: userID, frequency: frequency}]
	if !ok {
		return nil
	}
	w := s.windows[id]
	if w.WindowStart.After(start) {
		w.WindowStart = start
	}
	return nil
}

// ListDueWindows implements store.DigestWindowRepository.
func (s *Store) ListDueWindows(_ context.Context, now time.Time, limit int) ([]*domain.DigestWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.DigestWindow
	for _, id := range s.openWindows {
		w := s.windows[id]
		if w.WindowEnd.After(now) {
			continue
		}
		if w.ClaimedUntil != nil && w.ClaimedUntil.After(now) {
			continue
		}
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowEnd.Before(out[j].WindowEnd) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimWindow implements store.DigestWindowRepository.
func (s *Store) ClaimWindow(_ context.Context, id string, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if w.DeliveredAt != nil {
		return false, nil
	}
	if w.ClaimedUntil != nil && w.ClaimedUntil.After(now) {
		return false, nil
	}
	leased := until
	w.ClaimedUntil = &leased
	return true, nil
}

// MarkDelivered implements store.DigestWindowRepository.
func (s *Store) MarkDelivered(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if w.DeliveredAt != nil {
		return false, nil
	}
	delivered := at
	w.DeliveredAt = &delivered
	w.ClaimedUntil = nil
	key := windowKey{userID: w.UserID, frequency: w.Frequency}
	if s.openWindows[key] == id {
		delete(s.openWindows, key)
	}
	return true, nil
}

// ReleaseWindow implements store.DigestWindowRepository.
func (s *Store) ReleaseWindow(_ context.Context, id string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return store.ErrNotFound
	}
	w.ClaimedUntil = nil
	w.Attempts++
	w.LastError = lastError
	return nil
}

// GetContact implements store.ContactDirectory.
func (s *Store) GetContact(_ context.Context, userID string) (domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[userID]
	if !ok {
		return domain.Contact{}, store.ErrNotFound
	}
	return c, nil
}

// UpsertContact implements store.Store.
func (s *Store) UpsertContact(_ context.Context, c domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.UserID] = c
	return nil
}
