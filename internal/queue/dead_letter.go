package queue

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// DeadLetterPublisher parks messages that could not be processed.
type DeadLetterPublisher struct {
	writer messageWriter
}

// NewDeadLetterPublisher constructs a publisher for the dead letter topic.
func NewDeadLetterPublisher(k *Kafka, topic string) *DeadLetterPublisher {
	return &DeadLetterPublisher{writer: k.NewWriter(topic)}
}

// Publish wraps the original message with the failure reason.
func (p *DeadLetterPublisher) Publish(ctx context.Context, msg kafka.Message, cause error) error {
	dl := DeadLetter{
		Topic:    msg.Topic,
		Key:      string(msg.Key),
		Payload:  msg.Value,
		FailedAt: time.Now().UTC(),
	}
	if cause != nil {
		dl.Error = cause.Error()
	}
	return writeJSON(ctx, p.writer, "dead letter", dl.Key, dl)
}

// Close closes the publisher.
func (p *DeadLetterPublisher) Close() error {
	return p.writer.Close()
}
