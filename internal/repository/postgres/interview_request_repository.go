package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-interview/internal/domain"
)

// InterviewRequestRepository stores interviews scheduled for later dialing.
type InterviewRequestRepository struct {
	db *sqlx.DB
}

// NewInterviewRequestRepository constructs a new repository.
func NewInterviewRequestRepository(db *sqlx.DB) *InterviewRequestRepository {
	return &InterviewRequestRepository{db: db}
}

// Create inserts a pending request.
func (r *InterviewRequestRepository) Create(ctx context.Context, req *domain.InterviewRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.State == "" {
		req.State = domain.InterviewRequestPending
	}
	q := `INSERT INTO interview_requests (id, candidate_id, scheduled_at, state, created_at, updated_at)
	VALUES (:id, :candidate_id, :scheduled_at, :state, :created_at, :updated_at)`
	params := map[string]any{
		"id":           req.ID,
		"candidate_id": req.CandidateID,
		"scheduled_at": req.ScheduledAt,
		"state":        string(req.State),
		"created_at":   req.CreatedAt,
		"updated_at":   req.UpdatedAt,
	}
	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("interview requests: insert: %w", err)
	}
	return nil
}

// ClaimDue atomically moves due pending requests to claimed so concurrent
// schedulers never dial the same candidate twice.
func (r *InterviewRequestRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.InterviewRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryxContext(ctx, `UPDATE interview_requests SET state = 'claimed', updated_at = $1
		WHERE id IN (
			SELECT id FROM interview_requests
			WHERE state = 'pending' AND scheduled_at <= $1
			ORDER BY scheduled_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, candidate_id, scheduled_at, state, call_sid, last_error, created_at, updated_at`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("interview requests: claim: %w", err)
	}
	defer rows.Close()

	var out []domain.InterviewRequest
	for rows.Next() {
		var rec interviewRequestRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("interview requests: scan: %w", err)
		}
		out = append(out, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("interview requests: rows err: %w", err)
	}
	return out, nil
}

// MarkDispatched records the call that served the request.
func (r *InterviewRequestRepository) MarkDispatched(ctx context.Context, id uuid.UUID, callSID string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE interview_requests SET state = 'dispatched', call_sid = $2, updated_at = NOW()
		WHERE id = $1`, id, callSID); err != nil {
		return fmt.Errorf("interview requests: mark dispatched: %w", err)
	}
	return nil
}

// MarkFailed records why a request could not be dialed.
func (r *InterviewRequestRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE interview_requests SET state = 'failed', last_error = $2, updated_at = NOW()
		WHERE id = $1`, id, reason); err != nil {
		return fmt.Errorf("interview requests: mark failed: %w", err)
	}
	return nil
}

type interviewRequestRecord struct {
	ID          uuid.UUID      `db:"id"`
	CandidateID int64          `db:"candidate_id"`
	ScheduledAt time.Time      `db:"scheduled_at"`
	State       string         `db:"state"`
	CallSID     sql.NullString `db:"call_sid"`
	LastError   sql.NullString `db:"last_error"`
	CreatedAt   sql.NullTime   `db:"created_at"`
	UpdatedAt   sql.NullTime   `db:"updated_at"`
}

func (r interviewRequestRecord) toDomain() domain.InterviewRequest {
	out := domain.InterviewRequest{
		ID:          r.ID,
		CandidateID: r.CandidateID,
		ScheduledAt: r.ScheduledAt,
		State:       domain.InterviewRequestState(r.State),
		CreatedAt:   r.CreatedAt.Time,
		UpdatedAt:   r.UpdatedAt.Time,
	}
	if r.CallSID.Valid {
		sid := r.CallSID.String
		out.CallSID = &sid
	}
	if r.LastError.Valid {
		msg := r.LastError.String
		out.LastError = &msg
	}
	return out
}
