package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the publishers need.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func writeJSON(ctx context.Context, w messageWriter, name, key string, msg any) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s: marshal message: %w", name, err)
	}
	record := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := w.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("%s: write message: %w", name, err)
	}
	return nil
}
