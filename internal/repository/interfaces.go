package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-interview/internal/domain"
	apperrors "github.com/acme/voice-interview/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation or a lost
	// compare-and-set race.
	ErrConflict = apperrors.ErrConflict
)

// SessionStore is the conversation store: one CallSession per call SID.
//
// Update is a single-key compare-and-set on Version. On success the stored
// version and s.Version are both incremented; a concurrent writer makes it
// fail with ErrConflict and nothing is written.
type SessionStore interface {
	Get(ctx context.Context, callSID string) (*domain.CallSession, error)
	Create(ctx context.Context, s *domain.CallSession) error
	Update(ctx context.Context, s *domain.CallSession) error
	// LatestActiveForCandidate returns the most recent session that is neither
	// terminal nor disconnected.
	LatestActiveForCandidate(ctx context.Context, candidateID int64) (*domain.CallSession, error)
}

// CandidateRepository manages interview candidates.
type CandidateRepository interface {
	Create(ctx context.Context, c *domain.Candidate) error
	Upsert(ctx context.Context, c *domain.Candidate) error
	Get(ctx context.Context, id int64) (*domain.Candidate, error)
	GetByPhone(ctx context.Context, phone string) (*domain.Candidate, error)
	List(ctx context.Context, afterID int64, limit int) ([]*domain.Candidate, error)
	Update(ctx context.Context, c *domain.Candidate) error
	// Delete fails with ErrConflict while calls or requests reference the
	// candidate.
	Delete(ctx context.Context, id int64) error
}

// QuestionRepository serves ordered question sets by role.
type QuestionRepository interface {
	Create(ctx context.Context, q *domain.Question) error
	Upsert(ctx context.Context, q *domain.Question) error
	// ReplaceRole swaps a role's whole question set atomically.
	ReplaceRole(ctx context.Context, role string, questions []domain.Question) error
	ListByRole(ctx context.Context, role string) ([]domain.Question, error)
	Get(ctx context.Context, id int64) (*domain.Question, error)
	Update(ctx context.Context, q *domain.Question) error
	Delete(ctx context.Context, id int64) error
}

// CallRecordRepository keeps the relational projection of sessions.
type CallRecordRepository interface {
	Upsert(ctx context.Context, rec domain.CallRecord) error
	Get(ctx context.Context, callSID string) (*domain.CallRecord, error)
}

// AnswerRepository keeps the relational projection of answers.
type AnswerRepository interface {
	Upsert(ctx context.Context, rec domain.AnswerRecord) error
	ListByCall(ctx context.Context, callSID string) ([]domain.AnswerRecord, error)
}

// InterviewRequestRepository stores interviews to dial later.
type InterviewRequestRepository interface {
	Create(ctx context.Context, req *domain.InterviewRequest) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.InterviewRequest, error)
	MarkDispatched(ctx context.Context, id uuid.UUID, callSID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}
