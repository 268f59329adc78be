// Package digest batches deferred notification emails into one email per
// digest window.
//
// Windows are opened by Enqueue and delivered by FlushDue. Window membership
// is not stored: a flush selects the user's digest notifications whose
// createdAt falls in [windowStart, flush time).
//
// Import Path: clientportal.io/portal/internal/digest
package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/channel"
	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/pkg/clock"
	"clientportal.io/portal/internal/pkg/logger"
	"clientportal.io/portal/internal/provider/email"
	"clientportal.io/portal/internal/store"
)

// Store is the persistence the scheduler needs.
type Store interface {
	store.NotificationRepository
	store.DigestWindowRepository
	store.PreferenceRepository
	store.ContactDirectory
}

// Config tunes flushing.
type Config struct {
	// ClaimLease is how long a flusher owns a window before another may
	// take it over.
	ClaimLease time.Duration
	// BatchSize caps windows handled per FlushDue call.
	BatchSize int
	// SendTimeout bounds one digest email send.
	SendTimeout time.Duration
	// DefaultLocation is used for users without a timezone.
	DefaultLocation *time.Location
}

func (c Config) withDefaults() Config {
	if c.ClaimLease <= 0 {
		c.ClaimLease = 2 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = channel.DefaultTimeout
	}
	if c.DefaultLocation == nil {
		c.DefaultLocation = time.UTC
	}
	return c
}

// Scheduler owns digest windows.
type Scheduler struct {
	store     Store
	transport email.Transport
	catalog   *channel.Catalog
	clock     clock.Clock
	cfg       Config
}

// NewScheduler creates a digest scheduler.
func NewScheduler(st Store, transport email.Transport, catalog *channel.Catalog, clk clock.Clock, cfg Config) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Scheduler{
		store:     st,
		transport: transport,
		catalog:   catalog,
		clock:     clk,
		cfg:       cfg.withDefaults(),
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Enqueue makes sure an open window covers n for the user's digest
// frequency. It is a no-op when one already does.
func (s *Scheduler) Enqueue(ctx context.Context, pref *domain.Preference, n *domain.Notification) error {
	freq := pref.DigestFrequency
	if freq == domain.DigestInstant || !freq.Valid() {
		return fmt.Errorf("digest enqueue for user %s: frequency %q is not a digest frequency", pref.UserID, freq)
	}

	open, err := s.store.GetOpenWindow(ctx, pref.UserID, freq)
	switch {
	case err == nil:
		if n.CreatedAt.Before(open.WindowStart) {
			return s.store.ExtendWindowStart(ctx, pref.UserID, freq, n.CreatedAt)
		}
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("get open %s window for user %s: %w", freq, pref.UserID, err)
	}

	return s.openWindow(ctx, pref, n.CreatedAt)
}

// openWindow creates a window starting at start. Losing a concurrent create
// extends the winner's start instead so nothing before it is orphaned.
func (s *Scheduler) openWindow(ctx context.Context, pref *domain.Preference, start time.Time) error {
	w := &domain.DigestWindow{
		ID:          newID(),
		UserID:      pref.UserID,
		Frequency:   pref.DigestFrequency,
		WindowStart: start,
		WindowEnd:   WindowEnd(pref, start, s.cfg.DefaultLocation),
		CreatedAt:   s.clock.Now(),
	}
	err := s.store.CreateWindow(ctx, w)
	switch {
	case err == nil:
		logger.Debug("Opened digest window",
			zap.String("user_id", w.UserID),
			zap.String("frequency", string(w.Frequency)),
			zap.Time("window_end", w.WindowEnd),
		)
		return nil
	case errors.Is(err, store.ErrAlreadyExists):
		return s.store.ExtendWindowStart(ctx, w.UserID, w.Frequency, start)
	default:
		return fmt.Errorf("create %s window for user %s: %w", w.Frequency, w.UserID, err)
	}
}

// WindowEnd computes when a window opened at start becomes due. Daily and
// weekly windows with an emailDigestTime end at the next digest slot.
func WindowEnd(pref *domain.Preference, start time.Time, fallback *time.Location) time.Time {
	switch pref.DigestFrequency {
	case domain.DigestDaily, domain.DigestWeekly:
		if slot, ok := NextDigestSlot(pref, start, fallback); ok {
			return slot
		}
	}
	return start.Add(pref.DigestFrequency.Duration())
}

// NextDigestSlot returns the first emailDigestTime, in the user's timezone,
// that is at least an hour after start. Weekly digests only use
// emailDigestDays, or land six days out when no days are set. It reports
// false when no digest time is configured.
func NextDigestSlot(pref *domain.Preference, start time.Time, fallback *time.Location) (time.Time, bool) {
	minutes, err := domain.ParseClock(pref.EmailDigestTime)
	if err != nil {
		return time.Time{}, false
	}

	earliest := start.Add(time.Hour)
	var days map[time.Weekday]bool
	if pref.DigestFrequency == domain.DigestWeekly {
		days = pref.DigestWeekdays()
		if len(days) == 0 {
			earliest = start.Add(6 * 24 * time.Hour)
		}
	}

	loc := pref.Location(fallback)
	local := earliest.In(loc)
	for i := 0; i <= 8; i++ {
		slot := time.Date(local.Year(), local.Month(), local.Day()+i, minutes/60, minutes%60, 0, 0, loc)
		if slot.Before(earliest) {
			continue
		}
		if len(days) > 0 && !days[slot.Weekday()] {
			continue
		}
		return slot.UTC(), true
	}
	return time.Time{}, false
}

// FlushResult summarizes one FlushDue pass.
type FlushResult struct {
	Due       int
	Delivered int
	Skipped   int
	Failed    int
}

// FlushDue delivers every due window and returns how many were delivered.
func (s *Scheduler) FlushDue(ctx context.Context) (int, error) {
	res, err := s.Flush(ctx)
	return res.Delivered, err
}

// Flush is FlushDue with a full summary. Per-window send failures are
// recorded on the window and retried by a later flush; they are not
// returned as errors.
func (s *Scheduler) Flush(ctx context.Context) (FlushResult, error) {
	now := s.clock.Now()
	windows, err := s.store.ListDueWindows(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return FlushResult{}, fmt.Errorf("list due digest windows: %w", err)
	}

	res := FlushResult{Due: len(windows)}
	var errs []error
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		delivered, err := s.flushWindow(ctx, w, now)
		switch {
		case err != nil:
			res.Failed++
			if !errors.Is(err, errSendFailed) {
				errs = append(errs, err)
			}
		case delivered:
			res.Delivered++
		default:
			res.Skipped++
		}
	}

	if res.Due > 0 {
		logger.Info("Digest flush finished",
			zap.Int("due", res.Due),
			zap.Int("delivered", res.Delivered),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed),
		)
	}
	return res, errors.Join(errs...)
}

var errSendFailed = errors.New("digest send failed")

func (s *Scheduler) flushWindow(ctx context.Context, w *domain.DigestWindow, now time.Time) (bool, error) {
	won, err := s.store.ClaimWindow(ctx, w.ID, now, now.Add(s.cfg.ClaimLease))
	if err != nil {
		return false, fmt.Errorf("claim window %s: %w", w.ID, err)
	}
	if !won {
		return false, nil
	}

	log := logger.With(
		zap.String("window_id", w.ID),
		zap.String("user_id", w.UserID),
		zap.String("frequency", string(w.Frequency)),
	)

	items, err := s.store.ListDigestNotifications(ctx, w.UserID, w.WindowStart, now)
	if err != nil {
		return false, s.release(ctx, w, fmt.Errorf("list digest notifications: %w", err))
	}

	pref, err := s.store.GetPreference(ctx, w.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, s.release(ctx, w, fmt.Errorf("load preference: %w", err))
	}
	if pref == nil {
		pref = domain.NewDefaultPreference("", w.UserID, now)
	}

	contact, err := s.store.GetContact(ctx, w.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, s.release(ctx, w, fmt.Errorf("load contact: %w", err))
	}

	switch {
	case len(items) == 0:
		log.Info("Digest window empty, closing without email")
	case !contact.CanEmail():
		log.Warn("Digest recipient has no verified email, closing without email",
			zap.Int("notifications", len(items)),
		)
	default:
		msg, err := s.catalog.RenderDigest(contact, w.Frequency, items, pref.Location(s.cfg.DefaultLocation))
		if err != nil {
			return false, s.release(ctx, w, fmt.Errorf("render digest: %w", err))
		}
		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		err = s.transport.Send(sendCtx, msg)
		cancel()
		if err != nil {
			log.Warn("Digest email failed, window left open for retry",
				zap.Int("attempt", w.Attempts+1),
				zap.Error(err),
			)
			return false, s.release(ctx, w, fmt.Errorf("%w: %v", errSendFailed, err))
		}
		log.Info("Digest email sent", zap.Int("notifications", len(items)))
	}

	set, err := s.store.MarkDelivered(ctx, w.ID, now)
	if err != nil {
		return false, fmt.Errorf("mark window %s delivered: %w", w.ID, err)
	}
	if !set {
		log.Warn("Digest window was already delivered by another flusher")
		return false, nil
	}

	s.rollover(ctx, pref, w, now, items)
	return true, nil
}

// release drops the claim so a later flush retries the window.
func (s *Scheduler) release(ctx context.Context, w *domain.DigestWindow, cause error) error {
	if err := s.store.ReleaseWindow(context.WithoutCancel(ctx), w.ID, cause.Error()); err != nil {
		logger.Error("Failed to release digest window",
			zap.String("window_id", w.ID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
	return cause
}

// rollover opens the next window for digest rows the delivered window did
// not cover. Those are rows committed inside [windowStart, cutoff) after the
// membership read, and rows at or after the cutoff.
func (s *Scheduler) rollover(ctx context.Context, pref *domain.Preference, w *domain.DigestWindow, cutoff time.Time, covered []*domain.Notification) {
	log := logger.With(zap.String("user_id", w.UserID), zap.String("window_id", w.ID))

	start, pending, err := s.uncovered(ctx, w, cutoff, covered)
	if err != nil {
		log.Error("Digest rollover check failed", zap.Error(err))
		return
	}
	if !pending {
		return
	}
	if start.Before(cutoff) {
		log.Warn("Digest notification missed by flush, carrying it to the next window",
			zap.Time("created_at", start),
		)
	}
	next := pref.Clone()
	next.DigestFrequency = w.Frequency
	if err := s.openWindow(ctx, next, start); err != nil {
		log.Error("Digest rollover failed", zap.Error(err))
	}
}

// uncovered returns where the next window must start, and false when every
// digest row up to now is covered.
func (s *Scheduler) uncovered(ctx context.Context, w *domain.DigestWindow, cutoff time.Time, covered []*domain.Notification) (time.Time, bool, error) {
	seen := make(map[string]struct{}, len(covered))
	for _, n := range covered {
		seen[n.ID] = struct{}{}
	}
	current, err := s.store.ListDigestNotifications(ctx, w.UserID, w.WindowStart, cutoff)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("relist digest notifications: %w", err)
	}
	for _, n := range current {
		if _, ok := seen[n.ID]; !ok {
			// current is ordered by createdAt.
			return n.CreatedAt, true, nil
		}
	}

	pending, err := s.store.HasDigestNotificationsSince(ctx, w.UserID, cutoff)
	if err != nil {
		return time.Time{}, false, err
	}
	return cutoff, pending, nil
}
