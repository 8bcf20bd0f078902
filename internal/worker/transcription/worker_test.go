package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/queue"
	"github.com/acme/voice-interview/internal/speech"
	apperrors "github.com/acme/voice-interview/pkg/errors"
	"github.com/acme/voice-interview/pkg/logger"
)

type stubTranscriber struct {
	text string
	err  error
}

func (s stubTranscriber) Transcribe(context.Context, speech.AudioRef) (string, error) {
	return s.text, s.err
}

type recordingSink struct {
	updates []domain.TranscriptUpdate
	err     error
}

func (s *recordingSink) ApplyTranscript(_ context.Context, upd domain.TranscriptUpdate) error {
	if s.err != nil {
		return s.err
	}
	s.updates = append(s.updates, upd)
	return nil
}

type recordingRequeue struct {
	jobs []queue.TranscriptionJob
}

func (r *recordingRequeue) DispatchTranscription(_ context.Context, job queue.TranscriptionJob) error {
	r.jobs = append(r.jobs, job)
	return nil
}

type recordingDead struct {
	causes []error
}

func (d *recordingDead) Publish(_ context.Context, _ kafka.Message, cause error) error {
	d.causes = append(d.causes, cause)
	return nil
}

func message(t *testing.T, job queue.TranscriptionJob) kafka.Message {
	t.Helper()
	b, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return kafka.Message{Key: []byte(job.CallSID), Value: b}
}

func newWorker(tr speech.Transcriber, sink *recordingSink) (*Worker, *recordingRequeue, *recordingDead) {
	rq := &recordingRequeue{}
	dl := &recordingDead{}
	return New(nil, tr, sink, rq, dl, 3, logger.NewNop()), rq, dl
}

func TestHandleAppliesTranscript(t *testing.T) {
	sink := &recordingSink{}
	w, rq, dl := newWorker(stubTranscriber{text: "five years of Go"}, sink)

	job := queue.TranscriptionJob{CallSID: "CA1", QuestionID: 2, RecordingURL: "https://r/RE1"}
	if err := w.handle(context.Background(), message(t, job)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sink.updates) != 1 || sink.updates[0].Transcript != "five years of Go" || sink.updates[0].QuestionID != 2 {
		t.Fatalf("unexpected updates %+v", sink.updates)
	}
	if len(rq.jobs) != 0 || len(dl.causes) != 0 {
		t.Fatalf("expected no requeue or dead letter")
	}
}

func TestHandleRequeuesThenDeadLetters(t *testing.T) {
	sink := &recordingSink{}
	w, rq, dl := newWorker(stubTranscriber{err: errors.New("provider down")}, sink)

	job := queue.TranscriptionJob{CallSID: "CA1", QuestionID: 2, RecordingURL: "https://r/RE1"}
	if err := w.handle(context.Background(), message(t, job)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rq.jobs) != 1 || rq.jobs[0].Attempt != 1 || rq.jobs[0].NotBefore.IsZero() {
		t.Fatalf("expected requeue with attempt 1, got %+v", rq.jobs)
	}

	job.Attempt = 2
	if err := w.handle(context.Background(), message(t, job)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(dl.causes) != 1 {
		t.Fatalf("expected dead letter after last attempt, got %d", len(dl.causes))
	}
	if len(sink.updates) != 0 {
		t.Fatalf("no transcript should be stored")
	}
}

func TestHandleEmptyAudioStoresEmptyTranscript(t *testing.T) {
	sink := &recordingSink{}
	w, _, _ := newWorker(stubTranscriber{err: speech.ErrEmptyAudio}, sink)

	job := queue.TranscriptionJob{CallSID: "CA1", QuestionID: 3, RecordingURL: "https://r/RE2"}
	if err := w.handle(context.Background(), message(t, job)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sink.updates) != 1 || sink.updates[0].Transcript != "" {
		t.Fatalf("expected empty transcript, got %+v", sink.updates)
	}
}

func TestHandleInvalidStateIsDeadLettered(t *testing.T) {
	sink := &recordingSink{err: apperrors.ErrInvalidState}
	w, rq, dl := newWorker(stubTranscriber{text: "hi"}, sink)

	job := queue.TranscriptionJob{CallSID: "CA404", QuestionID: 1, RecordingURL: "https://r/RE3"}
	if err := w.handle(context.Background(), message(t, job)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(dl.causes) != 1 || len(rq.jobs) != 0 {
		t.Fatalf("expected dead letter only, got dead=%d requeue=%d", len(dl.causes), len(rq.jobs))
	}
}

func TestHandleMalformedPayload(t *testing.T) {
	w, _, dl := newWorker(stubTranscriber{}, &recordingSink{})
	if err := w.handle(context.Background(), kafka.Message{Value: []byte("{")}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(dl.causes) != 1 {
		t.Fatalf("expected malformed payload to be dead-lettered")
	}
}
