// Package postgres is the PostgreSQL store backend built on pgx.
//
// Import Path: clientportal.io/portal/internal/store/postgres
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store over PostgreSQL.
type Store struct {
	db DBTX
}

var _ store.Store = (*Store)(nil)

// New wraps an open connection pool.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// Migrate creates the notification tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply notification schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRow(ctx, "SELECT 1").Scan(&one)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

const preferenceColumns = `id, user_id, is_enabled, digest_frequency, categories,
	quiet_hours_enabled, quiet_hours_start, quiet_hours_end,
	email_digest_time, email_digest_days, timezone, version, created_at, updated_at`

// GetPreference implements store.PreferenceRepository.
func (s *Store) GetPreference(ctx context.Context, userID string) (*domain.Preference, error) {
	var (
		p          domain.Preference
		categories []byte
		days       []string
	)
	err := s.db.QueryRow(ctx,
		`SELECT `+preferenceColumns+` FROM notification_preferences WHERE user_id = $1`,
		userID,
	).Scan(
		&p.ID, &p.UserID, &p.IsEnabled, &p.DigestFrequency, &categories,
		&p.QuietHoursEnabled, &p.QuietHoursStart, &p.QuietHoursEnd,
		&p.EmailDigestTime, &days, &p.Timezone, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select preference: %w", err)
	}
	if err := json.Unmarshal(categories, &p.Categories); err != nil {
		return nil, fmt.Errorf("decode preference categories: %w", err)
	}
	if len(days) > 0 {
		p.EmailDigestDays = days
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func preferenceArgs(p *domain.Preference) ([]byte, []string, error) {
	categories, err := json.Marshal(p.Categories)
	if err != nil {
		return nil, nil, fmt.Errorf("encode preference categories: %w", err)
	}
	days := p.EmailDigestDays
	if days == nil {
		days = []string{}
	}
	return categories, days, nil
}

// CreatePreference implements store.PreferenceRepository.
func (s *Store) CreatePreference(ctx context.Context, p *domain.Preference) error {
	categories, days, err := preferenceArgs(p)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO notification_preferences (`+preferenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.UserID, p.IsEnabled, p.DigestFrequency, categories,
		p.QuietHoursEnabled, p.QuietHoursStart, p.QuietHoursEnd,
		p.EmailDigestTime, days, p.Timezone, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert preference: %w", err)
	}
	return nil
}

// UpdatePreference implements store.PreferenceRepository.
func (s *Store) UpdatePreference(ctx context.Context, p *domain.Preference, expectedVersion int64) error {
	categories, days, err := preferenceArgs(p)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE notification_preferences SET
			is_enabled = $3, digest_frequency = $4, categories = $5,
			quiet_hours_enabled = $6, quiet_hours_start = $7, quiet_hours_end = $8,
			email_digest_time = $9, email_digest_days = $10, timezone = $11,
			version = $12, updated_at = $13
		WHERE user_id = $1 AND version = $2`,
		p.UserID, expectedVersion, p.IsEnabled, p.DigestFrequency, categories,
		p.QuietHoursEnabled, p.QuietHoursStart, p.QuietHoursEnd,
		p.EmailDigestTime, days, p.Timezone, p.Version, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update preference: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notification_preferences WHERE user_id = $1)`,
		p.UserID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check preference: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

const notificationColumns = `id, user_id, COALESCE(project_id, ''), type, title, message,
	COALESCE(link, ''), is_read, read_at, COALESCE(idempotency_key, ''), digest, created_at`

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	if err := row.Scan(
		&n.ID, &n.UserID, &n.ProjectID, &n.Type, &n.Title, &n.Message,
		&n.Link, &n.IsRead, &n.ReadAt, &n.IdempotencyKey, &n.Digest, &n.CreatedAt,
	); err != nil {
		return nil, err
	}
	n.ReadAt = utcPtr(n.ReadAt)
	n.CreatedAt = n.CreatedAt.UTC()
	return &n, nil
}

func (s *Store) queryNotifications(ctx context.Context, sql string, args ...any) ([]*domain.Notification, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CreateNotification implements store.NotificationRepository.
func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO notifications (
			id, user_id, project_id, type, title, message, link,
			is_read, read_at, idempotency_key, digest, created_at
		) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8, $9, NULLIF($10, ''), $11, $12)`,
		n.ID, n.UserID, n.ProjectID, n.Type, n.Title, n.Message, n.Link,
		n.IsRead, n.ReadAt, n.IdempotencyKey, n.Digest, n.CreatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetNotificationByIdempotencyKey implements store.NotificationRepository.
func (s *Store) GetNotificationByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Notification, error) {
	n, err := scanNotification(s.db.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select notification by idempotency key: %w", err)
	}
	return n, nil
}

// ListNotifications implements store.NotificationRepository.
func (s *Store) ListNotifications(ctx context.Context, userID string, filter store.ListFilter) ([]*domain.Notification, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	out, err := s.queryNotifications(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		WHERE user_id = $1 AND ($2 = FALSE OR is_read = FALSE)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		userID, filter.UnreadOnly, limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

// CountUnread implements store.NotificationRepository.
func (s *Store) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`,
		userID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead implements store.NotificationRepository.
func (s *Store) MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE, read_at = $3
		WHERE id = $1 AND user_id = $2 AND is_read = FALSE`,
		id, userID, at,
	)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1 AND user_id = $2)`,
		id, userID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

// MarkAllRead implements store.NotificationRepository.
func (s *Store) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE, read_at = $2
		WHERE user_id = $1 AND is_read = FALSE`,
		userID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListDigestNotifications implements store.NotificationRepository.
func (s *Store) ListDigestNotifications(ctx context.Context, userID string, from, to time.Time) ([]*domain.Notification, error) {
	out, err := s.queryNotifications(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		WHERE user_id = $1 AND digest = TRUE AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC, id ASC`,
		userID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list digest notifications: %w", err)
	}
	return out, nil
}

// HasDigestNotificationsSince implements store.NotificationRepository.
func (s *Store) HasDigestNotificationsSince(ctx context.Context, userID string, from time.Time) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE user_id = $1 AND digest = TRUE AND created_at >= $2
		)`,
		userID, from,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check digest notifications: %w", err)
	}
	return exists, nil
}

// DeleteReadBefore implements store.NotificationRepository.
func (s *Store) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM notifications WHERE is_read = TRUE AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete read notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

const windowColumns = `id, user_id, frequency, window_start, window_end,
	delivered_at, claimed_until, attempts, last_error, created_at`

func scanWindow(row pgx.Row) (*domain.DigestWindow, error) {
	var w domain.DigestWindow
	if err := row.Scan(
		&w.ID, &w.UserID, &w.Frequency, &w.WindowStart, &w.WindowEnd,
		&w.DeliveredAt, &w.ClaimedUntil, &w.Attempts, &w.LastError, &w.CreatedAt,
	); err != nil {
		return nil, err
	}
	w.WindowStart = w.WindowStart.UTC()
	w.WindowEnd = w.WindowEnd.UTC()
	w.DeliveredAt = utcPtr(w.DeliveredAt)
	w.ClaimedUntil = utcPtr(w.ClaimedUntil)
	w.CreatedAt = w.CreatedAt.UTC()
	return &w, nil
}

// CreateWindow implements store.DigestWindowRepository.
func (s *Store) CreateWindow(ctx context.Context, w *domain.DigestWindow) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO digest_windows (`+windowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.UserID, w.Frequency, w.WindowStart, w.WindowEnd,
		w.DeliveredAt, w.ClaimedUntil, w.Attempts, w.LastError, w.CreatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert digest window: %w", err)
	}
	return nil
}

// GetOpenWindow implements store.DigestWindowRepository.
func (s *Store) GetOpenWindow(ctx context.Context, userID string, frequency domain.DigestFrequency) (*domain.DigestWindow, error) {
	w, err := scanWindow(s.db.QueryRow(ctx,
		`SELECT `+windowColumns+` FROM digest_windows
		WHERE user_id = $1 AND frequency = $2 AND delivered_at IS NULL`,
		userID, frequency,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select open digest window: %w", err)
	}
	return w, nil
}

// ExtendWindowStart implements store.DigestWindowRepository.
func (s *Store) ExtendWindowStart(ctx context.Context, userID string, frequency domain.DigestFrequency, start time.Time) error {
	if _, err := s.db.Exec(ctx,
		`UPDATE digest_windows SET window_start = $3
		WHERE user_id = $1 AND frequency = $2 AND delivered_at IS NULL AND window_start > $3`,
		userID, frequency, start,
	); err != nil {
		return fmt.Errorf("extend digest window: %w", err)
	}
	return nil
}

// ListDueWindows implements store.DigestWindowRepository.
func (s *Store) ListDueWindows(ctx context.Context, now time.Time, limit int) ([]*domain.DigestWindow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+windowColumns+` FROM digest_windows
		WHERE delivered_at IS NULL AND window_end <= $1
		  AND (claimed_until IS NULL OR claimed_until <= $1)
		ORDER BY window_end ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due digest windows: %w", err)
	}
	defer rows.Close()

	out := []*domain.DigestWindow{}
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan digest window: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ClaimWindow implements store.DigestWindowRepository.
func (s *Store) ClaimWindow(ctx context.Context, id string, now, until time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE digest_windows SET claimed_until = $3
		WHERE id = $1 AND delivered_at IS NULL
		  AND (claimed_until IS NULL OR claimed_until <= $2)`,
		id, now, until,
	)
	if err != nil {
		return false, fmt.Errorf("claim digest window: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkDelivered implements store.DigestWindowRepository.
func (s *Store) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE digest_windows SET delivered_at = $2, claimed_until = NULL
		WHERE id = $1 AND delivered_at IS NULL`,
		id, at,
	)
	if err != nil {
		return false, fmt.Errorf("mark digest window delivered: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseWindow implements store.DigestWindowRepository.
func (s *Store) ReleaseWindow(ctx context.Context, id string, lastError string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE digest_windows SET claimed_until = NULL, attempts = attempts + 1, last_error = $2
		WHERE id = $1`,
		id, lastError,
	)
	if err != nil {
		return fmt.Errorf("release digest window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetContact implements store.ContactDirectory.
func (s *Store) GetContact(ctx context.Context, userID string) (domain.Contact, error) {
	var c domain.Contact
	err := s.db.QueryRow(ctx,
		`SELECT user_id, email, name, email_verified FROM portal_contacts WHERE user_id = $1`,
		userID,
	).Scan(&c.UserID, &c.Email, &c.Name, &c.EmailVerified)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Contact{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Contact{}, fmt.Errorf("select contact: %w", err)
	}
	return c, nil
}

// UpsertContact implements store.Store.
func (s *Store) UpsertContact(ctx context.Context, c domain.Contact) error {
	if _, err := s.db.Exec(ctx,
		`INSERT INTO portal_contacts (user_id, email, name, email_verified)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET email = EXCLUDED.email, name = EXCLUDED.name, email_verified = EXCLUDED.email_verified`,
		c.UserID, c.Email, c.Name, c.EmailVerified,
	); err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}
