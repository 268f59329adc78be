// Package realtime provides best-effort push transports. Every transport
// carries the same JSON envelope so a websocket hub can relay messages
// published by other server instances.
//
// Import Path: clientportal.io/portal/internal/provider/realtime
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventNotificationNew is published when a canonical notification is stored.
const EventNotificationNew = "notification:new"

// UserTopic returns the per-user topic name.
func UserTopic(userID string) string {
	return "user-" + userID
}

// Publisher pushes an event to everyone subscribed to topic.
type Publisher interface {
	Publish(ctx context.Context, topic, event string, payload any) error
	Name() string
}

// Envelope is the wire format shared by every transport.
type Envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sentAt"`
}

func encodeEnvelope(topic, event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{
		Topic:   topic,
		Event:   event,
		Payload: raw,
		SentAt:  time.Now().UTC(),
	})
}

// DecodeEnvelope parses a relayed message.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode realtime envelope: %w", err)
	}
	if env.Topic == "" || env.Event == "" {
		return Envelope{}, fmt.Errorf("decode realtime envelope: topic and event are required")
	}
	return env, nil
}
