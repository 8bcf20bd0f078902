package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/queue"
	"github.com/acme/voice-interview/internal/repository"
	"github.com/acme/voice-interview/internal/worker"
	"github.com/acme/voice-interview/pkg/logger"
)

var answerNamespace = uuid.MustParse("6f1c2a8e-3d4b-4f6a-9c1e-2b7d8e9f0a11")

// Worker projects session transitions into the relational call and answer tables.
type Worker struct {
	reader  worker.Reader
	calls   repository.CallRecordRepository
	answers repository.AnswerRepository
	logger  *logger.Logger
}

// New creates a projection worker.
func New(reader worker.Reader, calls repository.CallRecordRepository, answers repository.AnswerRepository, lg *logger.Logger) *Worker {
	return &Worker{reader: reader, calls: calls, answers: answers, logger: lg.Named("projector")}
}

// Run processes transition events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer w.reader.Close()

	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("projection worker: fetch", zap.Error(err))
			continue
		}

		if err := w.handle(ctx, msg); err != nil {
			w.logger.Error("projection worker: handle", zap.Error(err))
			continue
		}

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			w.logger.Error("projection worker: commit", zap.Error(err))
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg kafka.Message) error {
	var evt queue.TransitionEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		// unreadable events can never be projected
		w.logger.Error("projection worker: unmarshal", zap.Error(err))
		return nil
	}

	tracer := otel.Tracer("interview.projector")
	sctx, span := tracer.Start(ctx, "session.project", trace.WithAttributes(
		attribute.String("call.sid", evt.CallSID),
		attribute.String("status", string(evt.Status)),
		attribute.Int64("version", evt.Version),
	))
	defer span.End()

	if err := w.calls.Upsert(sctx, callRecord(evt)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("project call %s: %w", evt.CallSID, err)
	}

	for _, a := range evt.Answers {
		if err := w.answers.Upsert(sctx, answerRecord(evt.CallSID, a)); err != nil {
			span.RecordError(err)
			return fmt.Errorf("project answer %s/%d: %w", evt.CallSID, a.QuestionID, err)
		}
	}
	return nil
}

func callRecord(evt queue.TransitionEvent) domain.CallRecord {
	rec := domain.CallRecord{
		CallSID:     evt.CallSID,
		CandidateID: evt.CandidateID,
		Role:        evt.Role,
		Status:      evt.Status,
		Consent:     evt.Consent,
		Cursor:      evt.Cursor,
		StartedAt:   evt.StartedAt,
		CompletedAt: evt.CompletedAt,
		UpdatedAt:   evt.OccurredAt,
	}
	if evt.RescheduleNote != "" {
		note := evt.RescheduleNote
		rec.RescheduleNote = &note
	}
	return rec
}

// answerRecord derives a stable id so replayed events address the same row.
func answerRecord(callSID string, a domain.Answer) domain.AnswerRecord {
	return domain.AnswerRecord{
		ID:           uuid.NewSHA1(answerNamespace, []byte(callSID+"/"+strconv.FormatInt(a.QuestionID, 10))),
		CallSID:      callSID,
		QuestionID:   a.QuestionID,
		Position:     a.Position,
		Transcript:   a.Transcript,
		RecordingURL: a.RecordingURL,
		AnsweredAt:   a.AnsweredAt,
	}
}
