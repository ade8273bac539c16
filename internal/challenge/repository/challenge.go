package repository

import (
	"context"
	"errors"
	"time"

	"github.com/daygoal/daygoal/internal/challenge/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// ChallengeRepository provides CRUD operations for challenges against PostgreSQL.
// Soft-deleted rows (deleted_at set) are invisible to every query here.
type ChallengeRepository struct {
	db *pgxpool.Pool
}

// NewChallengeRepository creates a new ChallengeRepository.
func NewChallengeRepository(db *pgxpool.Pool) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

const challengeColumns = `
	id, title, description, start_date, end_date, capacity,
	category, proof_way, proof_count, status, created_at, updated_at, deleted_at`

// Create inserts a new challenge.
func (r *ChallengeRepository) Create(ctx context.Context, c *model.Challenge) error {
	c.ID = uuid.New()
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = model.ChallengeStatusPending
	}

	query := `
		INSERT INTO challenges (
			id, title, description, start_date, end_date, capacity,
			category, proof_way, proof_count, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12
		)`

	_, err := r.db.Exec(ctx, query,
		c.ID, c.Title, c.Description, c.StartDate, c.EndDate, c.Capacity,
		c.Category, c.ProofWay, c.ProofCount, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetByID retrieves a challenge by its UUID.
func (r *ChallengeRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id = $1 AND deleted_at IS NULL`
	return r.scanOne(ctx, query, id)
}

// List returns challenges newest first, optionally filtered by status and category.
func (r *ChallengeRepository) List(ctx context.Context, status model.ChallengeStatus, category model.Category, limit, offset int) ([]*model.Challenge, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT ` + challengeColumns + ` FROM challenges
		WHERE deleted_at IS NULL
		  AND ($1 = '' OR status = $1)
		  AND ($2 = '' OR category = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.Query(ctx, query, string(status), string(category), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

// ListByStatusAndStartDate returns non-deleted challenges in the given status
// whose start_date equals the given date. Used by the scheduler's morning run.
func (r *ChallengeRepository) ListByStatusAndStartDate(ctx context.Context, status model.ChallengeStatus, date time.Time) ([]*model.Challenge, error) {
	query := `
		SELECT ` + challengeColumns + ` FROM challenges
		WHERE deleted_at IS NULL AND status = $1 AND start_date = $2
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, status, model.DateOnly(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

// ListByStatusAndEndDate returns non-deleted challenges in the given status
// whose end_date equals the given date. Used by the scheduler's evening run.
func (r *ChallengeRepository) ListByStatusAndEndDate(ctx context.Context, status model.ChallengeStatus, date time.Time) ([]*model.Challenge, error) {
	query := `
		SELECT ` + challengeColumns + ` FROM challenges
		WHERE deleted_at IS NULL AND status = $1 AND end_date = $2
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, status, model.DateOnly(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

// UpdateStatus changes the status of a challenge.
func (r *ChallengeRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ChallengeStatus) error {
	query := `UPDATE challenges SET status = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.db.Exec(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete marks a challenge as logically removed.
func (r *ChallengeRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE challenges SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.db.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanOne executes a query returning a single challenge row.
func (r *ChallengeRepository) scanOne(ctx context.Context, query string, args ...any) (*model.Challenge, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return r.scan(rows)
}

func (r *ChallengeRepository) collect(rows pgx.Rows) ([]*model.Challenge, error) {
	var challenges []*model.Challenge
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, c)
	}
	return challenges, rows.Err()
}

// scan reads a single challenge from a pgx.Rows cursor. Column order matches
// challengeColumns.
func (r *ChallengeRepository) scan(rows pgx.Rows) (*model.Challenge, error) {
	var c model.Challenge
	err := rows.Scan(
		&c.ID, &c.Title, &c.Description, &c.StartDate, &c.EndDate, &c.Capacity,
		&c.Category, &c.ProofWay, &c.ProofCount, &c.Status,
		&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
