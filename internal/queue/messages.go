package queue

import (
	"encoding/json"
	"time"

	"github.com/acme/voice-interview/internal/domain"
)

// TransitionEvent is emitted after every persisted session change.
type TransitionEvent struct {
	CallSID        string               `json:"call_sid"`
	CandidateID    int64                `json:"candidate_id"`
	Role           string               `json:"role"`
	Status         domain.SessionStatus `json:"status"`
	Phase          domain.Phase         `json:"phase"`
	Consent        domain.ConsentState  `json:"consent"`
	Cursor         int                  `json:"cursor"`
	Turn           int                  `json:"turn"`
	Version        int64                `json:"version"`
	Answers        []domain.Answer      `json:"answers"`
	RescheduleNote string               `json:"reschedule_note,omitempty"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

// NewTransitionEvent snapshots a session for the event stream.
func NewTransitionEvent(s *domain.CallSession) TransitionEvent {
	snap := s.Clone()
	return TransitionEvent{
		CallSID:        snap.CallSID,
		CandidateID:    snap.CandidateID,
		Role:           snap.Role,
		Status:         snap.Status,
		Phase:          snap.Phase,
		Consent:        snap.Consent,
		Cursor:         snap.Cursor,
		Turn:           snap.Turn,
		Version:        snap.Version,
		Answers:        snap.Answers,
		RescheduleNote: snap.RescheduleNote,
		StartedAt:      snap.StartedAt,
		CompletedAt:    snap.CompletedAt,
		OccurredAt:     snap.UpdatedAt,
	}
}

// TranscriptionJob asks the transcriber to turn a recorded answer into text.
type TranscriptionJob struct {
	CallSID      string    `json:"call_sid"`
	QuestionID   int64     `json:"question_id"`
	RecordingURL string    `json:"recording_url"`
	RecordingSID string    `json:"recording_sid,omitempty"`
	Attempt      int       `json:"attempt"`
	NotBefore    time.Time `json:"not_before,omitempty"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// DeadLetter wraps a message that exhausted its processing attempts.
type DeadLetter struct {
	Topic    string          `json:"topic"`
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failed_at"`
}
