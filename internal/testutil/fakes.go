package testutil

import (
	"context"
	"sync"
	"time"

	"clientportal.io/portal/internal/provider/email"
)

// EmailRecorder is an in-memory email transport.
type EmailRecorder struct {
	mu    sync.Mutex
	sent  []email.Message
	Err   error
	Delay time.Duration
}

// Name implements email.Transport.
func (*EmailRecorder) Name() string { return "recorder" }

// Send records msg unless Err is set. Delay simulates a slow provider and
// honors ctx.
func (r *EmailRecorder) Send(ctx context.Context, msg email.Message) error {
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, msg)
	return nil
}

// SetErr changes the failure returned by Send.
func (r *EmailRecorder) SetErr(err error) {
	r.mu.Lock()
	r.Err = err
	r.mu.Unlock()
}

// Sent returns a copy of the recorded messages.
func (r *EmailRecorder) Sent() []email.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]email.Message(nil), r.sent...)
}

// Published is one recorded realtime publish.
type Published struct {
	Topic   string
	Event   string
	Payload any
}

// PublishRecorder is an in-memory realtime publisher.
type PublishRecorder struct {
	mu        sync.Mutex
	published []Published
	Err       error
}

// Name implements realtime.Publisher.
func (*PublishRecorder) Name() string { return "recorder" }

// Publish records the event unless Err is set.
func (r *PublishRecorder) Publish(ctx context.Context, topic, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.published = append(r.published, Published{Topic: topic, Event: event, Payload: payload})
	return nil
}

// Published returns a copy of the recorded events.
func (r *PublishRecorder) Published() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.published...)
}
