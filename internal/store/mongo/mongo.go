// Package mongo is the MongoDB store backend.
//
// Import Path: clientportal.io/portal/internal/store/mongo
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/store"
)

// Collection names.
const (
	CollectionPreferences   = "notification_preferences"
	CollectionNotifications = "notifications"
	CollectionDigestWindows = "digest_windows"
	CollectionContacts      = "contacts"
)

// windowDocument adds the open flag backing the one-open-window index.
type windowDocument struct {
	domain.DigestWindow `bson:",inline"`
	Open                bool `bson:"open"`
}

type contactDocument struct {
	ID             string `bson:"_id"`
	domain.Contact `bson:",inline"`
}

// Store implements store.Store over MongoDB.
type Store struct {
	db            *mongo.Database
	preferences   *mongo.Collection
	notifications *mongo.Collection
	windows       *mongo.Collection
	contacts      *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// New binds the store to a database.
func New(db *mongo.Database) *Store {
	return &Store{
		db:            db,
		preferences:   db.Collection(CollectionPreferences),
		notifications: db.Collection(CollectionNotifications),
		windows:       db.Collection(CollectionDigestWindows),
		contacts:      db.Collection(CollectionContacts),
	}
}

// EnsureIndexes creates the unique and query indexes the store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.preferences.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("user_unique"),
	}); err != nil {
		return fmt.Errorf("create preference indexes: %w", err)
	}

	if _, err := s.notifications.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("user_created"),
		},
		{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "isRead", Value: 1}},
			Options: options.Index().SetName("user_read"),
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "idempotencyKey", Value: 1}},
			Options: options.Index().
				SetName("user_idempotency_key").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"idempotencyKey": bson.M{"$exists": true}}),
		},
	}); err != nil {
		return fmt.Errorf("create notification indexes: %w", err)
	}

	if _, err := s.windows.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "frequency", Value: 1}},
			Options: options.Index().
				SetName("one_open_window").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"open": true}),
		},
		{
			Keys:    bson.D{{Key: "open", Value: 1}, {Key: "windowEnd", Value: 1}},
			Options: options.Index().SetName("due_windows"),
		},
	}); err != nil {
		return fmt.Errorf("create digest window indexes: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// GetPreference implements store.PreferenceRepository.
func (s *Store) GetPreference(ctx context.Context, userID string) (*domain.Preference, error) {
	var p domain.Preference
	err := s.preferences.FindOne(ctx, bson.M{"userId": userID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find preference: %w", err)
	}
	if p.Categories == nil {
		p.Categories = map[domain.Category]domain.CategoryPreference{}
	}
	return &p, nil
}

// CreatePreference implements store.PreferenceRepository.
func (s *Store) CreatePreference(ctx context.Context, p *domain.Preference) error {
	_, err := s.preferences.InsertOne(ctx, p)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert preference: %w", err)
	}
	return nil
}

// UpdatePreference implements store.PreferenceRepository.
func (s *Store) UpdatePreference(ctx context.Context, p *domain.Preference, expectedVersion int64) error {
	res, err := s.preferences.ReplaceOne(ctx,
		bson.M{"userId": p.UserID, "version": expectedVersion},
		p,
	)
	if err != nil {
		return fmt.Errorf("replace preference: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := s.preferences.CountDocuments(ctx, bson.M{"userId": p.UserID})
	if err != nil {
		return fmt.Errorf("count preference: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (s *Store) findNotifications(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.Notification, error) {
	cursor, err := s.notifications.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	out := []*domain.Notification{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateNotification implements store.NotificationRepository.
func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) error {
	_, err := s.notifications.InsertOne(ctx, n)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetNotificationByIdempotencyKey implements store.NotificationRepository.
func (s *Store) GetNotificationByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Notification, error) {
	var n domain.Notification
	err := s.notifications.FindOne(ctx, bson.M{"userId": userID, "idempotencyKey": key}).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find notification by idempotency key: %w", err)
	}
	return &n, nil
}

// ListNotifications implements store.NotificationRepository.
func (s *Store) ListNotifications(ctx context.Context, userID string, filter store.ListFilter) ([]*domain.Notification, error) {
	query := bson.M{"userId": userID}
	if filter.UnreadOnly {
		query["isRead"] = false
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(filter.Offset))
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	out, err := s.findNotifications(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

// CountUnread implements store.NotificationRepository.
func (s *Store) CountUnread(ctx context.Context, userID string) (int, error) {
	n, err := s.notifications.CountDocuments(ctx, bson.M{"userId": userID, "isRead": false})
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return int(n), nil
}

// MarkRead implements store.NotificationRepository.
func (s *Store) MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	res, err := s.notifications.UpdateOne(ctx,
		bson.M{"_id": id, "userId": userID, "isRead": false},
		bson.M{"$set": bson.M{"isRead": true, "readAt": at}},
	)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	if res.ModifiedCount > 0 {
		return true, nil
	}

	n, err := s.notifications.CountDocuments(ctx, bson.M{"_id": id, "userId": userID})
	if err != nil {
		return false, fmt.Errorf("count notification: %w", err)
	}
	if n == 0 {
		return false, store.ErrNotFound
	}
	return false, nil
}

// MarkAllRead implements store.NotificationRepository.
func (s *Store) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	res, err := s.notifications.UpdateMany(ctx,
		bson.M{"userId": userID, "isRead": false},
		bson.M{"$set": bson.M{"isRead": true, "readAt": at}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return int(res.ModifiedCount), nil
}

// ListDigestNotifications implements store.NotificationRepository.
func (s *Store) ListDigestNotifications(ctx context.Context, userID string, from, to time.Time) ([]*domain.Notification, error) {
	out, err := s.findNotifications(ctx,
		bson.M{
			"userId":    userID,
			"digest":    true,
			"createdAt": bson.M{"$gte": from, "$lt": to},
		},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list digest notifications: %w", err)
	}
	return out, nil
}

// HasDigestNotificationsSince implements store.NotificationRepository.
func (s *Store) HasDigestNotificationsSince(ctx context.Context, userID string, from time.Time) (bool, error) {
	n, err := s.notifications.CountDocuments(ctx,
		bson.M{"userId": userID, "digest": true, "createdAt": bson.M{"$gte": from}},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("count digest notifications: %w", err)
	}
	return n > 0, nil
}

// DeleteReadBefore implements store.NotificationRepository.
func (s *Store) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.notifications.DeleteMany(ctx, bson.M{"isRead": true, "createdAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("delete read notifications: %w", err)
	}
	return res.DeletedCount, nil
}

func unclaimedAt(now time.Time) bson.A {
	return bson.A{
		bson.M{"claimedUntil": nil},
		bson.M{"claimedUntil": bson.M{"$lte": now}},
	}
}

// CreateWindow implements store.DigestWindowRepository.
func (s *Store) CreateWindow(ctx context.Context, w *domain.DigestWindow) error {
	_, err := s.windows.InsertOne(ctx, windowDocument{DigestWindow: *w, Open: w.DeliveredAt == nil})
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert digest window: %w", err)
	}
	return nil
}

// GetOpenWindow implements store.DigestWindowRepository.
func (s *Store) GetOpenWindow(ctx context.Context, userID string, frequency domain.DigestFrequency) (*domain.DigestWindow, error) {
	var doc windowDocument
	err := s.windows.FindOne(ctx, bson.M{"userId": userID, "frequency": frequency, "open": true}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find open digest window: %w", err)
	}
	return &doc.DigestWindow, nil
}

// ExtendWindowStart implements store.DigestWindowRepository.
func (s *Store) ExtendWindowStart(ctx context.Context, userID string, frequency domain.DigestFrequency, start time.Time) error {
	if _, err := s.windows.UpdateOne(ctx,
		bson.M{"userId": userID, "frequency": frequency, "open": true, "windowStart": bson.M{"$gt": start}},
		bson.M{"$set": bson.M{"windowStart": start}},
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
	cursor, err := s.windows.Find(ctx,
		bson.M{
			"open":      true,
			"windowEnd": bson.M{"$lte": now},
			"$or":       unclaimedAt(now),
		},
		options.Find().SetSort(bson.D{{Key: "windowEnd", Value: 1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("list due digest windows: %w", err)
	}
	var docs []windowDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode digest windows: %w", err)
	}
	out := make([]*domain.DigestWindow, 0, len(docs))
	for i := range docs {
		w := docs[i].DigestWindow
		out = append(out, &w)
	}
	return out, nil
}

// ClaimWindow implements store.DigestWindowRepository.
func (s *Store) ClaimWindow(ctx context.Context, id string, now, until time.Time) (bool, error) {
	res, err := s.windows.UpdateOne(ctx,
		bson.M{"_id": id, "open": true, "$or": unclaimedAt(now)},
		bson.M{"$set": bson.M{"claimedUntil": until}},
	)
	if err != nil {
		return false, fmt.Errorf("claim digest window: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// MarkDelivered implements store.DigestWindowRepository.
func (s *Store) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.windows.UpdateOne(ctx,
		bson.M{"_id": id, "open": true},
		bson.M{
			"$set":   bson.M{"deliveredAt": at, "open": false},
			"$unset": bson.M{"claimedUntil": ""},
		},
	)
	if err != nil {
		return false, fmt.Errorf("mark digest window delivered: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// ReleaseWindow implements store.DigestWindowRepository.
func (s *Store) ReleaseWindow(ctx context.Context, id string, lastError string) error {
	res, err := s.windows.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$unset": bson.M{"claimedUntil": ""},
			"$inc":   bson.M{"attempts": 1},
			"$set":   bson.M{"lastError": lastError},
		},
	)
	if err != nil {
		return fmt.Errorf("release digest window: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetContact implements store.ContactDirectory.
func (s *Store) GetContact(ctx context.Context, userID string) (domain.Contact, error) {
	var doc contactDocument
	err := s.contacts.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Contact{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Contact{}, fmt.Errorf("find contact: %w", err)
	}
	return doc.Contact, nil
}

// UpsertContact implements store.Store.
func (s *Store) UpsertContact(ctx context.Context, c domain.Contact) error {
	if _, err := s.contacts.ReplaceOne(ctx,
		bson.M{"_id": c.UserID},
		contactDocument{ID: c.UserID, Contact: c},
		options.Replace().SetUpsert(true),
	); err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}
