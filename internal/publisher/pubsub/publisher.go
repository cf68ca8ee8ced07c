// Package pubsub publishes capture notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
)

// EventTypeAttribute is the message attribute naming the notification kind.
const EventTypeAttribute = "event_type"

// Publisher wraps a Pub/Sub topic publisher. The topic argument of Publish is
// recorded as the event type attribute; routing is fixed by the wrapped
// publisher.
type Publisher struct {
	publisher *pubsub.Publisher
}

// New creates a Publisher for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

// Publish marshals the payload to JSON, injects the trace context into the
// message attributes and waits for the server-assigned message id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.publisher == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	msg, err := buildMessage(ctx, topic, payload)
	if err != nil {
		return "", err
	}
	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func buildMessage(ctx context.Context, topic string, payload any) (*pubsub.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	attrs := make(map[string]string)
	if topic != "" {
		attrs[EventTypeAttribute] = topic
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier(attrs))
	return &pubsub.Message{Data: data, Attributes: attrs}, nil
}

// carrier adapts message attributes to propagation.TextMapCarrier.
type carrier map[string]string

func (c carrier) Get(key string) string {
	return c[key]
}

func (c carrier) Set(key, value string) {
	c[key] = value
}

func (c carrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
