package ports

import (
	"context"

	"github.com/aretw0/spooler/pkg/domain"
)

// SessionRegistry keeps track of active aggregation sessions.
// Entries are added when a session starts and removed when it ends, whatever the outcome.
type SessionRegistry interface {
	// Save records (or replaces) the entry for rec.ID.
	Save(ctx context.Context, rec domain.SessionRecord) error

	// Delete removes the entry. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, sessionID string) error

	// List returns all active entries.
	List(ctx context.Context) ([]domain.SessionRecord, error)
}
