// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
)

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	publisher  *pubsub.Publisher
	attributes map[string]string
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithAttributes adds static attributes to every message, e.g. the source service.
func WithAttributes(attrs map[string]string) Option {
	return func(p *Publisher) {
		for k, v := range attrs {
			p.attributes[k] = v
		}
	}
}

// New creates a Publisher for the provided topic publisher.
func New(publisher *pubsub.Publisher, opts ...Option) *Publisher {
	p := &Publisher{publisher: publisher, attributes: map[string]string{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish marshals the payload to JSON and waits for the server-assigned ID.
// The topic argument is informational; the wrapped publisher fixes the topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string, len(p.attributes)+3)}
	for k, v := range p.attributes {
		msg.Attributes[k] = v
	}
	if topic != "" {
		msg.Attributes["topic"] = topic
	}
	otel.GetTextMapPropagator().Inject(ctx, &attributeCarrier{attrs: msg.Attributes})

	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and releases the topic publisher.
func (p *Publisher) Stop() {
	if p.publisher != nil {
		p.publisher.Stop()
	}
}

// attributeCarrier implements propagation.TextMapCarrier for message attributes.
type attributeCarrier struct {
	attrs map[string]string
}

func (c *attributeCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *attributeCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
