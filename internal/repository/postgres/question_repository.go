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

// QuestionRepository implements repository.QuestionRepository using PostgreSQL.
type QuestionRepository struct {
	db *sqlx.DB
}

// NewQuestionRepository constructs a new repository.
func NewQuestionRepository(db *sqlx.DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// Create inserts a question and fills in its id.
func (r *QuestionRepository) Create(ctx context.Context, q *domain.Question) error {
	row := r.db.QueryRowxContext(ctx, `INSERT INTO questions (role, text, position, created_at)
		VALUES ($1, $2, $3, $4) RETURNING id`, q.Role, q.Text, q.Position, q.CreatedAt)
	if err := row.Scan(&q.ID); err != nil {
		return fmt.Errorf("question repo: insert: %w", err)
	}
	return nil
}

// Upsert inserts or rewrites the question at (role, position).
func (r *QuestionRepository) Upsert(ctx context.Context, q *domain.Question) error {
	row := r.db.QueryRowxContext(ctx, `INSERT INTO questions (role, text, position, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role, position) DO UPDATE SET text = EXCLUDED.text
		RETURNING id`, q.Role, q.Text, q.Position, q.CreatedAt)
	if err := row.Scan(&q.ID); err != nil {
		return fmt.Errorf("question repo: upsert: %w", err)
	}
	return nil
}

// ReplaceRole swaps the whole question set of a role in one transaction.
func (r *QuestionRepository) ReplaceRole(ctx context.Context, role string, questions []domain.Question) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE role = $1`, role); err != nil {
			return fmt.Errorf("question repo: clear role %s: %w", role, err)
		}
		for i := range questions {
			q := &questions[i]
			q.Role = role
			row := tx.QueryRowxContext(ctx, `INSERT INTO questions (role, text, position, created_at)
				VALUES ($1, $2, $3, $4) RETURNING id`, q.Role, q.Text, q.Position, q.CreatedAt)
			if err := row.Scan(&q.ID); err != nil {
				return fmt.Errorf("question repo: insert %s/%d: %w", role, q.Position, err)
			}
		}
		return nil
	})
}

// ListByRole returns the role's questions in asking order.
func (r *QuestionRepository) ListByRole(ctx context.Context, role string) ([]domain.Question, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id, role, text, position, created_at
		FROM questions WHERE role = $1 ORDER BY position ASC, id ASC`, role)
	if err != nil {
		return nil, fmt.Errorf("question repo: list: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		var rec questionRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("question repo: scan: %w", err)
		}
		out = append(out, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("question repo: rows err: %w", err)
	}
	return out, nil
}

// Get fetches a question by id.
func (r *QuestionRepository) Get(ctx context.Context, id int64) (*domain.Question, error) {
	var rec questionRecord
	err := r.db.QueryRowxContext(ctx, `SELECT id, role, text, position, created_at
		FROM questions WHERE id = $1`, id).StructScan(&rec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("question repo: get: %w", err)
	}
	q := rec.toDomain()
	return &q, nil
}

// Update rewrites a question's role, text and position.
func (r *QuestionRepository) Update(ctx context.Context, q *domain.Question) error {
	res, err := r.db.ExecContext(ctx, `UPDATE questions SET role = $2, text = $3, position = $4 WHERE id = $1`,
		q.ID, q.Role, q.Text, q.Position)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("question repo: %s/%d taken: %w", q.Role, q.Position, repository.ErrConflict)
		}
		return fmt.Errorf("question repo: update: %w", err)
	}
	return expectOneRow(res, "question repo: update")
}

// Delete removes a question. Recorded answers keep their question id.
func (r *QuestionRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("question repo: delete: %w", err)
	}
	return expectOneRow(res, "question repo: delete")
}

type questionRecord struct {
	ID        int64        `db:"id"`
	Role      string       `db:"role"`
	Text      string       `db:"text"`
	Position  int          `db:"position"`
	CreatedAt sql.NullTime `db:"created_at"`
}

func (r questionRecord) toDomain() domain.Question {
	return domain.Question{
		ID:        r.ID,
		Role:      r.Role,
		Text:      r.Text,
		Position:  r.Position,
		CreatedAt: r.CreatedAt.Time,
	}
}
