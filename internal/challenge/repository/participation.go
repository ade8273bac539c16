package repository

import (
	"context"
	"time"

	"github.com/daygoal/daygoal/internal/challenge/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ParticipationRepository provides CRUD and counting operations for
// participations against PostgreSQL.
type ParticipationRepository struct {
	db *pgxpool.Pool
}

// NewParticipationRepository creates a new ParticipationRepository.
func NewParticipationRepository(db *pgxpool.Pool) *ParticipationRepository {
	return &ParticipationRepository{db: db}
}

const participationColumns = `
	id, user_id, challenge_id, role, status, created_at, updated_at`

// Create inserts a new participation.
func (r *ParticipationRepository) Create(ctx context.Context, p *model.Participation) error {
	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO participations (
			id, user_id, challenge_id, role, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		p.ID, p.UserID, p.ChallengeID, p.Role, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// GetByID retrieves a participation by its UUID.
func (r *ParticipationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Participation, error) {
	query := `SELECT ` + participationColumns + ` FROM participations WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

// GetByUserAndChallenge retrieves the participation for a (user, challenge) pair.
func (r *ParticipationRepository) GetByUserAndChallenge(ctx context.Context, userID, challengeID uuid.UUID) (*model.Participation, error) {
	query := `SELECT ` + participationColumns + ` FROM participations WHERE user_id = $1 AND challenge_id = $2`
	return r.scanOne(ctx, query, userID, challengeID)
}

// ExistsByUserAndChallenge reports whether any participation exists for the pair.
func (r *ParticipationRepository) ExistsByUserAndChallenge(ctx context.Context, userID, challengeID uuid.UUID) (bool, error) {
	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM participations WHERE user_id = $1 AND challenge_id = $2)`
	if err := r.db.QueryRow(ctx, q, userID, challengeID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// CountByChallengeAndStatus returns the number of participations for the
// challenge holding the given status. This count is the source of truth for
// capacity and queue checks; callers serialize it per challenge.
func (r *ParticipationRepository) CountByChallengeAndStatus(ctx context.Context, challengeID uuid.UUID, status model.ParticipationStatus) (int, error) {
	var count int
	q := `SELECT COUNT(*) FROM participations WHERE challenge_id = $1 AND status = $2`
	if err := r.db.QueryRow(ctx, q, challengeID, status).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListByUserAndStatus returns a user's participations in the given status,
// newest first.
func (r *ParticipationRepository) ListByUserAndStatus(ctx context.Context, userID uuid.UUID, status model.ParticipationStatus, limit, offset int) ([]*model.Participation, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT ` + participationColumns + ` FROM participations
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.Query(ctx, query, userID, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

// ListByChallengeAndStatus returns a challenge's participations in the given
// status, oldest first so the queue order matches arrival order.
func (r *ParticipationRepository) ListByChallengeAndStatus(ctx context.Context, challengeID uuid.UUID, status model.ParticipationStatus, limit, offset int) ([]*model.Participation, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT ` + participationColumns + ` FROM participations
		WHERE challenge_id = $1 AND status = $2
		ORDER BY created_at ASC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.Query(ctx, query, challengeID, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

// UpdateStatus changes the status of a participation.
func (r *ParticipationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ParticipationStatus) error {
	query := `UPDATE participations SET status = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete physically removes a participation. Used only for cancelling a
// pending request; withdrawals keep their row.
func (r *ParticipationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM participations WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanOne executes a query returning a single participation row.
func (r *ParticipationRepository) scanOne(ctx context.Context, query string, args ...any) (*model.Participation, error) {
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

func (r *ParticipationRepository) collect(rows pgx.Rows) ([]*model.Participation, error) {
	var participations []*model.Participation
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		participations = append(participations, p)
	}
	return participations, rows.Err()
}

// scan reads a single participation from a pgx.Rows cursor. Column order
// matches participationColumns.
func (r *ParticipationRepository) scan(rows pgx.Rows) (*model.Participation, error) {
	var p model.Participation
	err := rows.Scan(
		&p.ID, &p.UserID, &p.ChallengeID, &p.Role, &p.Status,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
