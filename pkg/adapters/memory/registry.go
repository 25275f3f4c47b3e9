package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/spooler/pkg/domain"
)

// Registry implements ports.SessionRegistry in memory.
// Safe for concurrent use.
type Registry struct {
	data map[string]domain.SessionRecord
	mu   sync.RWMutex
}

// NewRegistry creates a new in-memory registry.
func NewRegistry() *Registry {
	return &Registry{
		data: make(map[string]domain.SessionRecord),
	}
}

// Save records the session.
func (r *Registry) Save(ctx context.Context, rec domain.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[rec.ID] = rec
	return nil
}

// Delete removes the session.
func (r *Registry) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, sessionID)
	return nil
}

// List returns active sessions, oldest first.
func (r *Registry) List(ctx context.Context) ([]domain.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.SessionRecord, 0, len(r.data))
	for _, rec := range r.data {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}
