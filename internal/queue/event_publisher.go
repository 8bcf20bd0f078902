package queue

import (
	"context"
)

// EventPublisher publishes session transition events.
type EventPublisher struct {
	writer messageWriter
}

// NewEventPublisher constructs a publisher for the given topic.
func NewEventPublisher(k *Kafka, topic string) *EventPublisher {
	return &EventPublisher{writer: k.NewWriter(topic)}
}

// PublishTransition emits a transition event keyed by call SID.
func (p *EventPublisher) PublishTransition(ctx context.Context, evt TransitionEvent) error {
	return writeJSON(ctx, p.writer, "event publisher", evt.CallSID, evt)
}

// Close closes the publisher.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
