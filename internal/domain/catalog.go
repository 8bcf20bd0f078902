package domain

import (
	"time"

	"github.com/google/uuid"
)

// Candidate is a person to be interviewed.
type Candidate struct {
	ID        int64
	Name      string
	Phone     string
	Role      string
	CreatedAt time.Time
}

// Question is one entry of a role's ordered question set.
type Question struct {
	ID        int64
	Role      string
	Text      string
	Position  int
	CreatedAt time.Time
}

// InterviewRequestState tracks a deferred dial.
type InterviewRequestState string

const (
	InterviewRequestPending    InterviewRequestState = "pending"
	InterviewRequestClaimed    InterviewRequestState = "claimed"
	InterviewRequestDispatched InterviewRequestState = "dispatched"
	InterviewRequestFailed     InterviewRequestState = "failed"
)

// InterviewRequest is an interview to dial at or after ScheduledAt.
type InterviewRequest struct {
	ID          uuid.UUID
	CandidateID int64
	ScheduledAt time.Time
	State       InterviewRequestState
	CallSID     *string
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CallRecord is the relational projection of a CallSession.
type CallRecord struct {
	CallSID        string
	CandidateID    int64
	Role           string
	Status         SessionStatus
	Consent        ConsentState
	Cursor         int
	RescheduleNote *string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

// AnswerRecord is the relational projection of an Answer.
type AnswerRecord struct {
	ID           uuid.UUID
	CallSID      string
	QuestionID   int64
	Position     int
	Transcript   *string
	RecordingURL string
	AnsweredAt   time.Time
}
