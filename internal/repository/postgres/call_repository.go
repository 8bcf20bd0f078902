package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/repository"
)

// CallRecordRepository keeps the relational copy of interview calls.
type CallRecordRepository struct {
	db *sqlx.DB
}

// NewCallRecordRepository constructs a new repository.
func NewCallRecordRepository(db *sqlx.DB) *CallRecordRepository {
	return &CallRecordRepository{db: db}
}

// Upsert writes the latest projection. Older events never overwrite newer
// ones because updated_at only moves forward.
func (r *CallRecordRepository) Upsert(ctx context.Context, rec domain.CallRecord) error {
	q := `INSERT INTO calls (
		call_sid, candidate_id, role, status, consent, cursor, reschedule_note, started_at, completed_at, updated_at
	) VALUES (
		:call_sid, :candidate_id, :role, :status, :consent, :cursor, :reschedule_note, :started_at, :completed_at, :updated_at
	)
	ON CONFLICT (call_sid) DO UPDATE SET
		status = EXCLUDED.status,
		consent = EXCLUDED.consent,
		cursor = EXCLUDED.cursor,
		reschedule_note = EXCLUDED.reschedule_note,
		started_at = COALESCE(calls.started_at, EXCLUDED.started_at),
		completed_at = COALESCE(calls.completed_at, EXCLUDED.completed_at),
		updated_at = EXCLUDED.updated_at
	WHERE calls.updated_at <= EXCLUDED.updated_at`

	params := map[string]any{
		"call_sid":        rec.CallSID,
		"candidate_id":    rec.CandidateID,
		"role":            rec.Role,
		"status":          string(rec.Status),
		"consent":         string(rec.Consent),
		"cursor":          rec.Cursor,
		"reschedule_note": rec.RescheduleNote,
		"started_at":      rec.StartedAt,
		"completed_at":    rec.CompletedAt,
		"updated_at":      rec.UpdatedAt,
	}
	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("call repo: upsert %s: %w", rec.CallSID, err)
	}
	return nil
}

// Get fetches the projection for a call.
func (r *CallRecordRepository) Get(ctx context.Context, callSID string) (*domain.CallRecord, error) {
	var rec callRecord
	err := r.db.QueryRowxContext(ctx, `SELECT call_sid, candidate_id, role, status, consent, cursor, reschedule_note, started_at, completed_at, updated_at
		FROM calls WHERE call_sid = $1`, callSID).StructScan(&rec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("call repo: get %s: %w", callSID, err)
	}
	out := rec.toDomain()
	return &out, nil
}

type callRecord struct {
	CallSID        string         `db:"call_sid"`
	CandidateID    int64          `db:"candidate_id"`
	Role           string         `db:"role"`
	Status         string         `db:"status"`
	Consent        string         `db:"consent"`
	Cursor         int            `db:"cursor"`
	RescheduleNote sql.NullString `db:"reschedule_note"`
	StartedAt      sql.NullTime   `db:"started_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
	UpdatedAt      sql.NullTime   `db:"updated_at"`
}

func (r callRecord) toDomain() domain.CallRecord {
	out := domain.CallRecord{
		CallSID:     r.CallSID,
		CandidateID: r.CandidateID,
		Role:        r.Role,
		Status:      domain.SessionStatus(r.Status),
		Consent:     domain.ConsentState(r.Consent),
		Cursor:      r.Cursor,
		UpdatedAt:   r.UpdatedAt.Time,
	}
	if r.RescheduleNote.Valid {
		note := r.RescheduleNote.String
		out.RescheduleNote = &note
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		out.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		out.CompletedAt = &t
	}
	return out
}
