// Package audit provides an append-only trail of participation and challenge
// lifecycle transitions. Every state change the service performs is recorded
// with its actor so disputes over who accepted or removed whom can be settled
// after the fact.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is a single audit record.
type Entry struct {
	ID        uuid.UUID         `json:"id"`
	Subject   string            `json:"subject"` // e.g. "participation/<id>", "challenge/<id>"
	Action    string            `json:"action"`  // join, confirm, leave, cancel, start, finish
	Actor     string            `json:"actor"`   // acting user id or "scheduler"
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Log is the interface for the audit trail. Both MemoryLog and PostgresLog
// implement it. Appends must never fail an enclosing business operation;
// callers treat errors as non-fatal.
type Log interface {
	// Append records a transition.
	Append(ctx context.Context, subject, action, actor string, payload map[string]string) (*Entry, error)

	// List returns entries for one subject, newest first.
	List(ctx context.Context, subject string, limit, offset int) ([]*Entry, error)
}
