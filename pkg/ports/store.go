package ports

import (
	"context"

	"github.com/aretw0/spooler/pkg/domain"
)

// BackingStore is an append-only byte sink owned by a single aggregation session.
//
// The lifecycle is Write* -> Finalize -> Body. Discard may be called in any state
// and releases every resource held by the store (file handle, temporary file).
type BackingStore interface {
	// Write appends p. Failures wrap domain.ErrStorage.
	Write(p []byte) (int, error)

	// Finalize flushes and closes the sink. Writes fail with domain.ErrStoreFinalized afterwards.
	Finalize() error

	// Len returns the number of bytes accepted so far, before or after Finalize.
	Len() int64

	// Body returns a lazy, repeatable view of the finalized content.
	// Returns domain.ErrStoreNotFinalized while the store is still open.
	Body() (domain.Body, error)

	// Discard closes the store and removes its content. It is idempotent.
	Discard() error
}

// StoreFactory creates backing stores.
type StoreFactory interface {
	// Open creates a new, empty store named by sessionID.
	// Fails with an error wrapping domain.ErrStorage when the location is not writable.
	Open(ctx context.Context, sessionID string) (BackingStore, error)
}
