package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/queue"
	"github.com/acme/voice-interview/internal/speech"
	"github.com/acme/voice-interview/internal/worker"
	apperrors "github.com/acme/voice-interview/pkg/errors"
	"github.com/acme/voice-interview/pkg/logger"
)

const retryStep = 30 * time.Second

// TranscriptSink stores a finished transcript on its session.
type TranscriptSink interface {
	ApplyTranscript(ctx context.Context, upd domain.TranscriptUpdate) error
}

// Requeuer puts a job back on the transcription topic.
type Requeuer interface {
	DispatchTranscription(ctx context.Context, job queue.TranscriptionJob) error
}

// DeadLetters parks jobs that cannot be processed.
type DeadLetters interface {
	Publish(ctx context.Context, msg kafka.Message, cause error) error
}

// Worker transcribes recorded answers in the background.
type Worker struct {
	reader      worker.Reader
	transcriber speech.Transcriber
	sink        TranscriptSink
	requeue     Requeuer
	dead        DeadLetters
	maxAttempts int
	logger      *logger.Logger
}

// New creates a transcription worker.
func New(reader worker.Reader, transcriber speech.Transcriber, sink TranscriptSink, requeue Requeuer, dead DeadLetters, maxAttempts int, lg *logger.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Worker{
		reader:      reader,
		transcriber: transcriber,
		sink:        sink,
		requeue:     requeue,
		dead:        dead,
		maxAttempts: maxAttempts,
		logger:      lg.Named("transcriber"),
	}
}

// Run consumes transcription jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer w.reader.Close()

	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("transcription worker: fetch", zap.Error(err))
			continue
		}

		if err := w.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("transcription worker: handle", zap.Error(err))
			continue
		}

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			w.logger.Error("transcription worker: commit", zap.Error(err))
		}
	}
}

// handle processes one message. A nil return means the message may be
// committed: it was applied, requeued or dead-lettered.
func (w *Worker) handle(ctx context.Context, msg kafka.Message) error {
	var job queue.TranscriptionJob
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return w.dead.Publish(ctx, msg, fmt.Errorf("unmarshal: %w", err))
	}

	tracer := otel.Tracer("interview.transcriber")
	sctx, span := tracer.Start(ctx, "transcription.job", trace.WithAttributes(
		attribute.String("call.sid", job.CallSID),
		attribute.Int64("question.id", job.QuestionID),
		attribute.Int("attempt", job.Attempt),
	))
	defer span.End()

	if err := worker.SleepUntil(sctx, job.NotBefore); err != nil {
		return err
	}

	text, err := w.transcriber.Transcribe(sctx, speech.AudioRef{URL: job.RecordingURL, SID: job.RecordingSID})
	if errors.Is(err, speech.ErrEmptyAudio) {
		text, err = "", nil
	}
	if err != nil {
		span.RecordError(err)
		return w.retry(sctx, msg, job, err)
	}

	err = w.sink.ApplyTranscript(sctx, domain.TranscriptUpdate{
		CallSID:    job.CallSID,
		QuestionID: job.QuestionID,
		Transcript: text,
	})
	switch {
	case err == nil:
		w.logger.Info("transcription worker: transcript stored",
			zap.String("call_sid", job.CallSID),
			zap.Int64("question_id", job.QuestionID),
		)
		return nil
	case errors.Is(err, apperrors.ErrInvalidState):
		span.RecordError(err)
		return w.dead.Publish(sctx, msg, err)
	default:
		span.RecordError(err)
		return w.retry(sctx, msg, job, err)
	}
}

func (w *Worker) retry(ctx context.Context, msg kafka.Message, job queue.TranscriptionJob, cause error) error {
	next := job.Attempt + 1
	if next >= w.maxAttempts {
		w.logger.Warn("transcription worker: giving up",
			zap.String("call_sid", job.CallSID),
			zap.Int64("question_id", job.QuestionID),
			zap.Int("attempts", next),
			zap.Error(cause),
		)
		return w.dead.Publish(ctx, msg, cause)
	}

	job.Attempt = next
	job.NotBefore = time.Now().UTC().Add(time.Duration(next) * retryStep)
	job.EnqueuedAt = time.Time{}
	w.logger.Warn("transcription worker: requeue",
		zap.String("call_sid", job.CallSID),
		zap.Int("attempt", next),
		zap.Error(cause),
	)
	return w.requeue.DispatchTranscription(ctx, job)
}
