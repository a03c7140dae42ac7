package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/studio-gateway/internal/events"
)

// Publisher pushes a JSON-encodable payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Message is the wire form of a lifecycle event on the topic.
type Message struct {
	OperationID string    `json:"operation_id"`
	RequestID   string    `json:"request_id,omitempty"`
	Timestamp   time.Time `json:"ts"`
	Op          string    `json:"op"`
	Stage       string    `json:"stage"`
	Result      string    `json:"result"`
	StudioID    string    `json:"studio_id,omitempty"`
	Name        string    `json:"name,omitempty"`
	Teamspace   string    `json:"teamspace,omitempty"`
	User        string    `json:"user,omitempty"`
	Status      string    `json:"status,omitempty"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// NewMessage converts an event to its topic payload.
func NewMessage(evt events.Event) Message {
	return Message{
		OperationID: evt.OperationID,
		RequestID:   evt.RequestID,
		Timestamp:   evt.TS.UTC(),
		Op:          string(evt.Stage.Op()),
		Stage:       string(evt.Stage),
		Result:      string(evt.Stage.Result()),
		StudioID:    evt.StudioID,
		Name:        evt.Name,
		Teamspace:   evt.Teamspace,
		User:        evt.User,
		Status:      evt.Status,
		DurationMs:  evt.Dur.Milliseconds(),
		Error:       evt.Note,
	}
}

// PublisherSink forwards events to a topic. With TerminalOnly set, only
// completed and failed stages are published.
type PublisherSink struct {
	publisher    Publisher
	topic        string
	terminalOnly bool
}

// PublisherSinkConfig configures a PublisherSink.
type PublisherSinkConfig struct {
	Topic        string
	TerminalOnly bool
}

// NewPublisherSink wraps publisher.
func NewPublisherSink(publisher Publisher, cfg PublisherSinkConfig) *PublisherSink {
	return &PublisherSink{
		publisher:    publisher,
		topic:        cfg.Topic,
		terminalOnly: cfg.TerminalOnly,
	}
}

// Consume publishes each event and joins the failures.
func (s *PublisherSink) Consume(ctx context.Context, batch []events.Event) error {
	if s.publisher == nil {
		return errors.New("publisher sink has no publisher")
	}
	var errs []error
	for _, evt := range batch {
		if s.terminalOnly && !evt.Stage.Terminal() {
			continue
		}
		if _, err := s.publisher.Publish(ctx, s.topic, NewMessage(evt)); err != nil {
			errs = append(errs, fmt.Errorf("publish %s for operation %s: %w", evt.Stage, evt.OperationID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; the publisher's owner closes it.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
