package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-interview/internal/domain"
)

// AnswerRepository keeps the relational copy of captured answers.
type AnswerRepository struct {
	db *sqlx.DB
}

// NewAnswerRepository constructs a new repository.
func NewAnswerRepository(db *sqlx.DB) *AnswerRepository {
	return &AnswerRepository{db: db}
}

// Upsert stores one answer per (call, question). A later transcript fills a
// null one but never erases it.
func (r *AnswerRepository) Upsert(ctx context.Context, rec domain.AnswerRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	q := `INSERT INTO answers (id, call_sid, question_id, position, transcript, recording_url, answered_at)
	VALUES (:id, :call_sid, :question_id, :position, :transcript, :recording_url, :answered_at)
	ON CONFLICT (call_sid, question_id) DO UPDATE SET
		transcript = COALESCE(EXCLUDED.transcript, answers.transcript),
		recording_url = COALESCE(NULLIF(EXCLUDED.recording_url, ''), answers.recording_url)`

	params := map[string]any{
		"id":            rec.ID,
		"call_sid":      rec.CallSID,
		"question_id":   rec.QuestionID,
		"position":      rec.Position,
		"transcript":    rec.Transcript,
		"recording_url": rec.RecordingURL,
		"answered_at":   rec.AnsweredAt,
	}
	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("answer repo: upsert %s/%d: %w", rec.CallSID, rec.QuestionID, err)
	}
	return nil
}

// ListByCall returns a call's answers in question order.
func (r *AnswerRepository) ListByCall(ctx context.Context, callSID string) ([]domain.AnswerRecord, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id, call_sid, question_id, position, transcript, recording_url, answered_at
		FROM answers WHERE call_sid = $1 ORDER BY position ASC`, callSID)
	if err != nil {
		return nil, fmt.Errorf("answer repo: list %s: %w", callSID, err)
	}
	defer rows.Close()

	var out []domain.AnswerRecord
	for rows.Next() {
		var rec answerRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("answer repo: scan: %w", err)
		}
		a := domain.AnswerRecord{
			ID:           rec.ID,
			CallSID:      rec.CallSID,
			QuestionID:   rec.QuestionID,
			Position:     rec.Position,
			RecordingURL: rec.RecordingURL.String,
			AnsweredAt:   rec.AnsweredAt.Time,
		}
		if rec.Transcript.Valid {
			t := rec.Transcript.String
			a.Transcript = &t
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("answer repo: rows err: %w", err)
	}
	return out, nil
}

type answerRecord struct {
	ID           uuid.UUID      `db:"id"`
	CallSID      string         `db:"call_sid"`
	QuestionID   int64          `db:"question_id"`
	Position     int            `db:"position"`
	Transcript   sql.NullString `db:"transcript"`
	RecordingURL sql.NullString `db:"recording_url"`
	AnsweredAt   sql.NullTime   `db:"answered_at"`
}
