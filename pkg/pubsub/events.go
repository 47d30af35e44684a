package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
)

// EventType names a certificate lifecycle event.
type EventType string

const (
	EventCertificateIssued  EventType = "certificate.issued"
	EventCertificateRevoked EventType = "certificate.revoked"
)

// CertificateEvent is the envelope published for certificate lifecycle changes.
type CertificateEvent struct {
	EventID       uuid.UUID      `json:"event_id"`
	Type          EventType      `json:"type"`
	CertificateID string         `json:"certificate_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Data          map[string]any `json:"data,omitempty"`
}

type sendFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// EventPublisher publishes certificate events to a single topic.
type EventPublisher struct {
	send    sendFunc
	timeout time.Duration
}

// NewEventPublisher wraps a Pub/Sub publisher handle.
func NewEventPublisher(pub *pubsub.Publisher, timeout time.Duration) (*EventPublisher, error) {
	if pub == nil {
		return nil, errors.New("pubsub publisher required")
	}
	send := func(ctx context.Context, msg *pubsub.Message) (string, error) {
		id, err := pub.Publish(ctx, msg).Get(ctx)
		if err != nil && msg.OrderingKey != "" {
			// a failed ordered publish pauses the key until resumed
			pub.ResumePublish(msg.OrderingKey)
		}
		return id, err
	}
	return &EventPublisher{send: send, timeout: timeout}, nil
}

// Publish serializes the event and waits for the server acknowledgement.
func (p *EventPublisher) Publish(ctx context.Context, event CertificateEvent) error {
	if p == nil || p.send == nil {
		return errors.New("event publisher not initialized")
	}
	if event.CertificateID == "" {
		return errors.New("certificate id is required")
	}
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_type":     string(event.Type),
			"certificate_id": event.CertificateID,
		},
		OrderingKey: event.CertificateID,
	}
	if _, err := p.send(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}
