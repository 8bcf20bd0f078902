package queue

import (
	"context"
	"time"
)

// TranscriptionDispatcher enqueues recorded answers for transcription.
type TranscriptionDispatcher struct {
	writer messageWriter
}

// NewTranscriptionDispatcher constructs a dispatcher for the given topic.
func NewTranscriptionDispatcher(k *Kafka, topic string) *TranscriptionDispatcher {
	return &TranscriptionDispatcher{writer: k.NewWriter(topic)}
}

// DispatchTranscription writes the job to Kafka.
func (d *TranscriptionDispatcher) DispatchTranscription(ctx context.Context, job TranscriptionJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	return writeJSON(ctx, d.writer, "transcription dispatcher", job.CallSID, job)
}

// Close closes the underlying writer.
func (d *TranscriptionDispatcher) Close() error {
	return d.writer.Close()
}
