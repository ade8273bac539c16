package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLog is an in-memory, thread-safe Log implementation. Useful for tests
// and single-process deployments that do not need durability.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, subject, action, actor string, payload map[string]string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := &Entry{
		ID:        uuid.New(),
		Subject:   subject,
		Action:    action,
		Actor:     actor,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

// List implements Log.
func (l *MemoryLog) List(_ context.Context, subject string, limit, offset int) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var matched []*Entry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Subject == subject {
			matched = append(matched, l.entries[i])
		}
	}
	if offset > len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}
