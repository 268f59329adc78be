// Package notification decides whether, where and when a user is notified
// about an event.
//
// Every accepted event produces exactly one canonical Notification row. The
// row is the reliability floor: email and realtime push are best-effort
// extras whose failures become warnings and never undo the row.
//
// Import Path: clientportal.io/portal/internal/notification
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/channel"
	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/pkg/clock"
	apperrors "clientportal.io/portal/internal/pkg/errors"
	"clientportal.io/portal/internal/pkg/logger"
	"clientportal.io/portal/internal/pkg/worker"
	"clientportal.io/portal/internal/store"
)

// Warnings reported in Result.Warnings.
const (
	WarnGlobalDisabled   = "suppressed: global-disabled"
	WarnCategoryDisabled = "suppressed: category-disabled"
	WarnQuietHours       = "suppressed: quiet-hours"
	WarnDigestDeferred   = "deferred: digest"
	WarnCategoryMissing  = "integrity: category-missing"
	WarnEmailFailed      = "channel-failed: email"
	WarnRealtimeFailed   = "channel-failed: realtime"
	WarnDigestFailed     = "channel-failed: digest"
)

// Result is the outcome of a successful dispatch.
type Result struct {
	NotificationID string   `json:"notificationId"`
	Warnings       []string `json:"warnings"`
	// Deduplicated is set when the idempotency key was already used; no
	// fan-out happened.
	Deduplicated bool `json:"deduplicated"`
}

// PreferenceSource resolves a user's preference, creating defaults.
type PreferenceSource interface {
	GetOrCreate(ctx context.Context, userID string) (*domain.Preference, error)
}

// DigestEnqueuer defers email into a digest window.
type DigestEnqueuer interface {
	Enqueue(ctx context.Context, pref *domain.Preference, n *domain.Notification) error
}

// Deps are the dispatcher's collaborators. Email, Realtime and Digest may
// be nil, which disables that fan-out.
type Deps struct {
	Preferences PreferenceSource
	Contacts    store.ContactDirectory
	InApp       channel.Channel
	Email       *channel.EmailChannel
	Realtime    channel.Channel
	Digest      DigestEnqueuer
	// Pool runs email and push concurrently. Nil runs them inline.
	Pool  *worker.Pool
	Clock clock.Clock
	// DefaultLocation applies to users without a timezone.
	DefaultLocation *time.Location
}

// Dispatcher implements the dispatch algorithm.
type Dispatcher struct {
	deps Deps
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(deps Deps) (*Dispatcher, error) {
	if deps.Preferences == nil {
		return nil, errors.New("notification dispatcher requires a preference source")
	}
	if deps.InApp == nil {
		return nil, errors.New("notification dispatcher requires the in-app channel")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.DefaultLocation == nil {
		deps.DefaultLocation = time.UTC
	}
	return &Dispatcher{deps: deps}, nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// plan is the resolved fan-out for one event.
type plan struct {
	push     bool
	email    bool
	digest   bool
	warnings []string
}

// resolve applies preference policy to an event at time now.
func (d *Dispatcher) resolve(pref *domain.Preference, ev domain.Event, now time.Time) plan {
	var p plan
	if !pref.IsEnabled {
		p.warnings = append(p.warnings, WarnGlobalDisabled)
		return p
	}

	var set domain.ChannelSet
	cp, ok := pref.Category(ev.Category)
	switch {
	case !ok:
		logger.Error("Notification preference is missing a category entry",
			zap.String("user_id", pref.UserID),
			zap.String("category", string(ev.Category)),
		)
		p.warnings = append(p.warnings, WarnCategoryMissing)
		set = domain.ChannelSet{InApp: true}
	case !cp.Enabled:
		p.warnings = append(p.warnings, WarnCategoryDisabled)
		return p
	default:
		set = cp.Channels.Expand()
	}

	p.push = set.InApp
	p.email = set.Email && ev.RequestEmail

	if p.email && pref.DigestFrequency.Valid() && pref.DigestFrequency != domain.DigestInstant {
		p.email = false
		p.digest = true
		p.warnings = append(p.warnings, WarnDigestDeferred)
	}
	if (p.push || p.email) && pref.InQuietHours(now, d.deps.DefaultLocation) {
		p.push = false
		p.email = false
		p.warnings = append(p.warnings, WarnQuietHours)
	}
	return p
}

// ValidateEvent reports the required fields ev is missing and an unknown
// category as one VALIDATION_FAILED error.
func ValidateEvent(ev domain.Event) error {
	var fieldErrors []apperrors.FieldError
	for _, field := range ev.MissingFields() {
		fieldErrors = append(fieldErrors, apperrors.FieldError{
			Field: field, Code: apperrors.CodeValidationFailed, Message: field + " is required",
		})
	}
	if ev.Category != "" && !ev.Category.Valid() {
		fieldErrors = append(fieldErrors, apperrors.FieldError{
			Field: "category", Code: apperrors.CodeUnknownCategory, Message: fmt.Sprintf("unknown category %q", ev.Category),
		})
	}
	if len(fieldErrors) == 0 {
		return nil
	}
	return apperrors.New(apperrors.CodeValidationFailed, "invalid notification event", http.StatusBadRequest).
		WithFieldErrors(fieldErrors)
}

// Dispatch stores the canonical notification for ev and fans it out
// according to the recipient's preferences. It fails only when the event is
// invalid, the preference cannot be loaded, or the canonical write fails.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.Event) (*Result, error) {
	ev.RecipientUserID = strings.TrimSpace(ev.RecipientUserID)
	ev.IdempotencyKey = strings.TrimSpace(ev.IdempotencyKey)
	if err := ValidateEvent(ev); err != nil {
		return nil, err
	}

	pref, err := d.deps.Preferences.GetOrCreate(ctx, ev.RecipientUserID)
	if err != nil {
		if _, ok := apperrors.IsAppError(err); ok {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.CodeDispatchFailed, "load notification preference", http.StatusInternalServerError)
	}

	now := d.deps.Clock.Now()
	p := d.resolve(pref, ev, now)

	n := &domain.Notification{
		ID:             newID(),
		UserID:         ev.RecipientUserID,
		ProjectID:      ev.ProjectID,
		Type:           ev.Category,
		Title:          ev.Title,
		Message:        ev.Message,
		Link:           ev.Link,
		IdempotencyKey: ev.IdempotencyKey,
		Digest:         p.digest,
		CreatedAt:      now,
	}

	// The canonical write ignores caller cancellation: it completes or fails.
	writeCtx := context.WithoutCancel(ctx)
	written := d.deps.InApp.Deliver(writeCtx, n, domain.Contact{})
	if !written.Success {
		logger.Error("Canonical notification write failed",
			zap.String("user_id", n.UserID),
			zap.String("category", string(n.Type)),
			zap.Error(written.Err),
		)
		return nil, apperrors.Wrap(written.Err, apperrors.CodeDispatchFailed, "store notification", http.StatusInternalServerError)
	}
	if written.Duplicate {
		logger.Debug("Duplicate notification event ignored",
			zap.String("user_id", n.UserID),
			zap.String("idempotency_key", n.IdempotencyKey),
			zap.String("notification_id", written.Notification.ID),
		)
		return &Result{NotificationID: written.Notification.ID, Warnings: []string{}, Deduplicated: true}, nil
	}

	if len(p.warnings) > 0 {
		logger.Debug("Notification fan-out adjusted by preferences",
			zap.String("notification_id", n.ID),
			zap.String("user_id", n.UserID),
			zap.Strings("warnings", p.warnings),
		)
	}

	warnings := append([]string{}, p.warnings...)
	warnings = append(warnings, d.fanOut(writeCtx, ev, pref, n, p)...)
	return &Result{NotificationID: n.ID, Warnings: warnings}, nil
}

// fanOut runs email, push and digest enqueue concurrently and returns one
// warning per failed channel, in a stable order.
func (d *Dispatcher) fanOut(ctx context.Context, ev domain.Event, pref *domain.Preference, n *domain.Notification, p plan) []string {
	var (
		emailErr, pushErr, digestErr error
		tasks                        []worker.Task
	)

	if p.email {
		tasks = append(tasks, func(ctx context.Context) {
			emailErr = d.sendEmail(ctx, ev, n)
		})
	}
	if p.push && d.deps.Realtime != nil {
		tasks = append(tasks, func(ctx context.Context) {
			if res := d.deps.Realtime.Deliver(ctx, n, domain.Contact{}); !res.Success {
				pushErr = res.Err
			}
		})
	}
	if p.digest {
		tasks = append(tasks, func(ctx context.Context) {
			if d.deps.Digest == nil {
				digestErr = errors.New("digest scheduler is not configured")
				return
			}
			digestErr = d.deps.Digest.Enqueue(ctx, pref, n)
		})
	}

	d.deps.Pool.RunAll(ctx, tasks...)

	var warnings []string
	if emailErr != nil {
		logger.Warn("Notification email failed",
			zap.String("notification_id", n.ID),
			zap.String("user_id", n.UserID),
			zap.Error(emailErr),
		)
		warnings = append(warnings, WarnEmailFailed)
	}
	if pushErr != nil {
		warnings = append(warnings, WarnRealtimeFailed)
	}
	if digestErr != nil {
		logger.Warn("Digest enqueue failed",
			zap.String("notification_id", n.ID),
			zap.String("user_id", n.UserID),
			zap.Error(digestErr),
		)
		warnings = append(warnings, WarnDigestFailed)
	}
	return warnings
}

func (d *Dispatcher) sendEmail(ctx context.Context, ev domain.Event, n *domain.Notification) error {
	if d.deps.Email == nil {
		return errors.New("email channel is not configured")
	}
	if d.deps.Contacts == nil {
		return errors.New("contact directory is not configured")
	}
	contact, err := d.deps.Contacts.GetContact(ctx, n.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("resolve contact: %w", err)
	}
	res := d.deps.Email.WithSubject(ev.EmailSubjectOverride).Deliver(ctx, n, contact)
	if !res.Success {
		return fmt.Errorf("%s: %w", res.ErrorKind, res.Err)
	}
	return nil
}
