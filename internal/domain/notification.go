package domain

import (
	"strings"
	"time"
)

// Notification is the canonical feed record. Only read state changes after
// creation.
type Notification struct {
	ID        string   `json:"id" bson:"_id"`
	UserID    string   `json:"userId" bson:"userId"`
	ProjectID string   `json:"projectId,omitempty" bson:"projectId,omitempty"`
	Type      Category `json:"type" bson:"type"`
	Title     string   `json:"title" bson:"title"`
	Message   string   `json:"message" bson:"message"`
	Link      string   `json:"link,omitempty" bson:"link,omitempty"`

	IsRead bool       `json:"isRead" bson:"isRead"`
	ReadAt *time.Time `json:"readAt,omitempty" bson:"readAt,omitempty"`

	// IdempotencyKey is unique per user when set.
	IdempotencyKey string `json:"idempotencyKey,omitempty" bson:"idempotencyKey,omitempty"`
	// Digest marks rows whose email was deferred to a digest window.
	Digest bool `json:"digest" bson:"digest"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// Clone returns a copy that does not share the ReadAt pointer.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	cp := *n
	if n.ReadAt != nil {
		t := *n.ReadAt
		cp.ReadAt = &t
	}
	return &cp
}

// Event is the dispatcher input. It is never persisted.
type Event struct {
	RecipientUserID      string   `json:"recipientUserId"`
	Category             Category `json:"category"`
	Title                string   `json:"title"`
	Message              string   `json:"message"`
	Link                 string   `json:"link,omitempty"`
	ProjectID            string   `json:"projectId,omitempty"`
	RequestEmail         bool     `json:"requestEmail"`
	EmailSubjectOverride string   `json:"emailSubjectOverride,omitempty"`
	IdempotencyKey       string   `json:"idempotencyKey,omitempty"`
}

// MissingFields lists required fields that are empty.
func (e Event) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(e.RecipientUserID) == "" {
		missing = append(missing, "recipientUserId")
	}
	if e.Category == "" {
		missing = append(missing, "category")
	}
	if strings.TrimSpace(e.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(e.Message) == "" {
		missing = append(missing, "message")
	}
	return missing
}

// DigestWindow tracks one batching interval for (user, frequency). Member
// notifications are derived from createdAt at flush time.
type DigestWindow struct {
	ID           string          `json:"id" bson:"_id"`
	UserID       string          `json:"userId" bson:"userId"`
	Frequency    DigestFrequency `json:"frequency" bson:"frequency"`
	WindowStart  time.Time       `json:"windowStart" bson:"windowStart"`
	WindowEnd    time.Time       `json:"windowEnd" bson:"windowEnd"`
	DeliveredAt  *time.Time      `json:"deliveredAt,omitempty" bson:"deliveredAt,omitempty"`
	ClaimedUntil *time.Time      `json:"claimedUntil,omitempty" bson:"claimedUntil,omitempty"`
	Attempts     int             `json:"attempts" bson:"attempts"`
	LastError    string          `json:"lastError,omitempty" bson:"lastError,omitempty"`
	CreatedAt    time.Time       `json:"createdAt" bson:"createdAt"`
}

// Open reports whether the window has not been delivered.
func (w *DigestWindow) Open() bool {
	return w.DeliveredAt == nil
}

// Clone returns a copy that does not share pointer fields.
func (w *DigestWindow) Clone() *DigestWindow {
	if w == nil {
		return nil
	}
	cp := *w
	if w.DeliveredAt != nil {
		t := *w.DeliveredAt
		cp.DeliveredAt = &t
	}
	if w.ClaimedUntil != nil {
		t := *w.ClaimedUntil
		cp.ClaimedUntil = &t
	}
	return &cp
}

// Contact is the recipient's contact information from the user directory.
type Contact struct {
	UserID        string `json:"userId" bson:"userId"`
	Email         string `json:"email" bson:"email"`
	Name          string `json:"name" bson:"name"`
	EmailVerified bool   `json:"emailVerified" bson:"emailVerified"`
}

// CanEmail reports whether the contact has a verified address.
func (c Contact) CanEmail() bool {
	return c.EmailVerified && strings.TrimSpace(c.Email) != ""
}
