// Package channel implements the delivery channels a notification can fan
// out to: the persisted in-app feed, email, and realtime push.
//
// Import Path: clientportal.io/portal/internal/channel
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/pkg/logger"
	"clientportal.io/portal/internal/provider/email"
	"clientportal.io/portal/internal/provider/realtime"
	"clientportal.io/portal/internal/store"
)

// Channel names.
const (
	NameInApp    = "in_app"
	NameEmail    = "email"
	NameRealtime = "realtime"
)

// Error kinds reported in DeliveryResult.ErrorKind.
const (
	ErrorKindTimeout   = "timeout"
	ErrorKindNoAddress = "no_address"
	ErrorKindRender    = "render"
	ErrorKindTransport = "transport"
	ErrorKindStore     = "store"
)

// DefaultTimeout bounds a single outbound adapter call.
const DefaultTimeout = 10 * time.Second

// DeliveryResult is the outcome of one channel delivery.
type DeliveryResult struct {
	Success   bool
	ErrorKind string
	Err       error
	// Duplicate is set by the in-app channel when the idempotency key was
	// already stored. Notification then holds the original row.
	Duplicate    bool
	Notification *domain.Notification
}

func failed(kind string, err error) DeliveryResult {
	return DeliveryResult{ErrorKind: kind, Err: err}
}

// Channel delivers a notification to one medium.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, n *domain.Notification, contact domain.Contact) DeliveryResult
}

func errorKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	return ErrorKindTransport
}

// InAppChannel writes the canonical notification row.
type InAppChannel struct {
	repo store.NotificationRepository
}

// NewInAppChannel creates the in-app channel.
func NewInAppChannel(repo store.NotificationRepository) *InAppChannel {
	return &InAppChannel{repo: repo}
}

// Name implements Channel.
func (*InAppChannel) Name() string { return NameInApp }

// Deliver implements Channel. The write is synchronous and its failure is
// fatal to dispatch.
func (c *InAppChannel) Deliver(ctx context.Context, n *domain.Notification, _ domain.Contact) DeliveryResult {
	err := c.repo.CreateNotification(ctx, n)
	if err == nil {
		return DeliveryResult{Success: true, Notification: n}
	}
	if errors.Is(err, store.ErrAlreadyExists) && n.IdempotencyKey != "" {
		existing, getErr := c.repo.GetNotificationByIdempotencyKey(ctx, n.UserID, n.IdempotencyKey)
		if getErr != nil {
			return failed(ErrorKindStore, fmt.Errorf("load duplicate notification: %w", getErr))
		}
		return DeliveryResult{Success: true, Duplicate: true, Notification: existing}
	}
	return failed(ErrorKindStore, fmt.Errorf("store notification for user %s: %w", n.UserID, err))
}

// EmailChannel renders and sends a single notification email.
type EmailChannel struct {
	transport       email.Transport
	catalog         *Catalog
	timeout         time.Duration
	subjectOverride string
}

// NewEmailChannel creates the email channel. timeout <= 0 uses
// DefaultTimeout.
func NewEmailChannel(transport email.Transport, catalog *Catalog, timeout time.Duration) *EmailChannel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &EmailChannel{transport: transport, catalog: catalog, timeout: timeout}
}

// WithSubject returns a copy that uses subject instead of the catalog
// subject. An empty subject returns the receiver.
func (c *EmailChannel) WithSubject(subject string) *EmailChannel {
	if subject == "" {
		return c
	}
	cp := *c
	cp.subjectOverride = subject
	return &cp
}

// Name implements Channel.
func (*EmailChannel) Name() string { return NameEmail }

// Deliver implements Channel. Failures are reported, never retried.
func (c *EmailChannel) Deliver(ctx context.Context, n *domain.Notification, contact domain.Contact) DeliveryResult {
	if !contact.CanEmail() {
		return failed(ErrorKindNoAddress, fmt.Errorf("user %s has no verified email address", n.UserID))
	}

	msg, err := c.catalog.RenderNotification(n, contact, c.subjectOverride)
	if err != nil {
		return failed(ErrorKindRender, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.transport.Send(sendCtx, msg); err != nil {
		return failed(errorKind(err), fmt.Errorf("%s: %w", c.transport.Name(), err))
	}

	logger.Debug("Notification email sent",
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("transport", c.transport.Name()),
	)
	return DeliveryResult{Success: true, Notification: n}
}

// RealtimePushChannel publishes the notification to the user's topic.
type RealtimePushChannel struct {
	publisher realtime.Publisher
	timeout   time.Duration
}

// NewRealtimePushChannel creates the realtime channel. timeout <= 0 uses
// DefaultTimeout.
func NewRealtimePushChannel(publisher realtime.Publisher, timeout time.Duration) *RealtimePushChannel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RealtimePushChannel{publisher: publisher, timeout: timeout}
}

// Name implements Channel.
func (*RealtimePushChannel) Name() string { return NameRealtime }

// Deliver implements Channel. Push is best-effort.
func (c *RealtimePushChannel) Deliver(ctx context.Context, n *domain.Notification, _ domain.Contact) DeliveryResult {
	pubCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.publisher.Publish(pubCtx, realtime.UserTopic(n.UserID), realtime.EventNotificationNew, n); err != nil {
		logger.Warn("Realtime push failed",
			zap.String("notification_id", n.ID),
			zap.String("user_id", n.UserID),
			zap.String("publisher", c.publisher.Name()),
			zap.Error(err),
		)
		return failed(errorKind(err), err)
	}
	return DeliveryResult{Success: true, Notification: n}
}

var (
	_ Channel = (*InAppChannel)(nil)
	_ Channel = (*EmailChannel)(nil)
	_ Channel = (*RealtimePushChannel)(nil)
)
