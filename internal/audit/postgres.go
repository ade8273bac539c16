package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresLog persists the audit trail to PostgreSQL. It implements Log.
type PostgresLog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLog creates a PostgresLog backed by the given connection pool.
func NewPostgresLog(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLog {
	return &PostgresLog{pool: pool, logger: logger}
}

// Append implements Log.
func (l *PostgresLog) Append(ctx context.Context, subject, action, actor string, payload map[string]string) (*Entry, error) {
	entry := &Entry{
		ID:        uuid.New(),
		Subject:   subject,
		Action:    action,
		Actor:     actor,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO audit_entries (id, subject, action, actor, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.Subject, entry.Action, entry.Actor, data, entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}
	return entry, nil
}

// List implements Log.
func (l *PostgresLog) List(ctx context.Context, subject string, limit, offset int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx, `
		SELECT id, subject, action, actor, payload, created_at
		FROM audit_entries
		WHERE subject = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		subject, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var payloadRaw []byte
		if err := rows.Scan(&e.ID, &e.Subject, &e.Action, &e.Actor, &payloadRaw, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(payloadRaw) > 0 {
			if err := json.Unmarshal(payloadRaw, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
