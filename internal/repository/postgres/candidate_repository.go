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

// CandidateRepository implements repository.CandidateRepository using PostgreSQL.
type CandidateRepository struct {
	db *sqlx.DB
}

// NewCandidateRepository constructs a new repository.
func NewCandidateRepository(db *sqlx.DB) *CandidateRepository {
	return &CandidateRepository{db: db}
}

const candidateColumns = `id, name, phone, role, created_at`

// Create inserts a candidate and fills in its id.
func (r *CandidateRepository) Create(ctx context.Context, c *domain.Candidate) error {
	rows, err := r.db.NamedQueryContext(ctx, `INSERT INTO candidates (name, phone, role, created_at)
		VALUES (:name, :phone, :role, :created_at)
		RETURNING id`, map[string]any{
		"name":       c.Name,
		"phone":      c.Phone,
		"role":       c.Role,
		"created_at": c.CreatedAt,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("candidate repo: phone %s: %w", c.Phone, repository.ErrConflict)
		}
		return fmt.Errorf("candidate repo: insert: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&c.ID); err != nil {
			return fmt.Errorf("candidate repo: scan id: %w", err)
		}
	}
	return rows.Err()
}

// Upsert inserts or refreshes a candidate keyed by phone.
func (r *CandidateRepository) Upsert(ctx context.Context, c *domain.Candidate) error {
	row := r.db.QueryRowxContext(ctx, `INSERT INTO candidates (name, phone, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (phone) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role
		RETURNING id`, c.Name, c.Phone, c.Role, c.CreatedAt)
	if err := row.Scan(&c.ID); err != nil {
		return fmt.Errorf("candidate repo: upsert: %w", err)
	}
	return nil
}

// Get fetches a candidate by id.
func (r *CandidateRepository) Get(ctx context.Context, id int64) (*domain.Candidate, error) {
	return r.getOne(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = $1`, id)
}

// GetByPhone fetches a candidate by E.164 phone number.
func (r *CandidateRepository) GetByPhone(ctx context.Context, phone string) (*domain.Candidate, error) {
	return r.getOne(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE phone = $1`, phone)
}

func (r *CandidateRepository) getOne(ctx context.Context, q string, arg any) (*domain.Candidate, error) {
	var rec candidateRecord
	if err := r.db.QueryRowxContext(ctx, q, arg).StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("candidate repo: get: %w", err)
	}
	c := rec.toDomain()
	return &c, nil
}

// List pages through candidates by id.
func (r *CandidateRepository) List(ctx context.Context, afterID int64, limit int) ([]*domain.Candidate, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryxContext(ctx, `SELECT `+candidateColumns+` FROM candidates
		WHERE id > $1 ORDER BY id ASC LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("candidate repo: list: %w", err)
	}
	defer rows.Close()

	var out []*domain.Candidate
	for rows.Next() {
		var rec candidateRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("candidate repo: scan: %w", err)
		}
		c := rec.toDomain()
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("candidate repo: rows err: %w", err)
	}
	return out, nil
}

// Update rewrites a candidate's name, phone and role.
func (r *CandidateRepository) Update(ctx context.Context, c *domain.Candidate) error {
	res, err := r.db.ExecContext(ctx, `UPDATE candidates SET name = $2, phone = $3, role = $4 WHERE id = $1`,
		c.ID, c.Name, c.Phone, c.Role)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("candidate repo: phone %s: %w", c.Phone, repository.ErrConflict)
		}
		return fmt.Errorf("candidate repo: update: %w", err)
	}
	return expectOneRow(res, "candidate repo: update")
}

// Delete removes a candidate that no call or request refers to.
func (r *CandidateRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM candidates WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("candidate repo: candidate %d has call history: %w", id, repository.ErrConflict)
		}
		return fmt.Errorf("candidate repo: delete: %w", err)
	}
	return expectOneRow(res, "candidate repo: delete")
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type candidateRecord struct {
	ID        int64        `db:"id"`
	Name      string       `db:"name"`
	Phone     string       `db:"phone"`
	Role      string       `db:"role"`
	CreatedAt sql.NullTime `db:"created_at"`
}

func (r candidateRecord) toDomain() domain.Candidate {
	return domain.Candidate{
		ID:        r.ID,
		Name:      r.Name,
		Phone:     r.Phone,
		Role:      r.Role,
		CreatedAt: r.CreatedAt.Time,
	}
}
