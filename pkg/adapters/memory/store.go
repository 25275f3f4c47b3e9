package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/aretw0/spooler/pkg/domain"
	"github.com/aretw0/spooler/pkg/ports"
)

// Factory implements ports.StoreFactory in memory.
// It is meant for tests and development; bodies are not spooled to disk.
type Factory struct {
	mu     sync.Mutex
	stores map[string]*Store
}

// NewFactory creates a new in-memory store factory.
func NewFactory() *Factory {
	return &Factory{stores: make(map[string]*Store)}
}

// Open creates an empty store for sessionID.
func (f *Factory) Open(ctx context.Context, sessionID string) (ports.BackingStore, error) {
	s := &Store{id: sessionID, owner: f}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores[sessionID] = s
	return s, nil
}

// Live returns the IDs of stores that have been opened and not discarded.
func (f *Factory) Live() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.stores))
	for id := range f.stores {
		ids = append(ids, id)
	}
	return ids
}

func (f *Factory) forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stores, id)
}

// Store is a BackingStore held in a byte buffer.
// Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	id        string
	owner     *Factory
	buf       bytes.Buffer
	finalized bool
	discarded bool
}

// Write appends p to the buffer.
func (s *Store) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.discarded:
		return 0, domain.ErrStoreClosed
	case s.finalized:
		return 0, domain.ErrStoreFinalized
	}
	return s.buf.Write(p)
}

// Finalize marks the store read-only.
func (s *Store) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.discarded {
		return domain.ErrStoreClosed
	}
	s.finalized = true
	return nil
}

// Len returns the number of bytes written so far.
func (s *Store) Len() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.buf.Len())
}

// Body returns a view over the finalized content.
func (s *Store) Body() (domain.Body, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.discarded:
		return nil, domain.ErrStoreClosed
	case !s.finalized:
		return nil, domain.ErrStoreNotFinalized
	}
	return &Body{store: s}, nil
}

// Discard drops the buffered content.
func (s *Store) Discard() error {
	s.mu.Lock()
	if s.discarded {
		s.mu.Unlock()
		return nil
	}
	s.discarded = true
	s.buf.Reset()
	s.mu.Unlock()

	if s.owner != nil {
		s.owner.forget(s.id)
	}
	return nil
}

// Body reads from the finalized buffer of a Store.
type Body struct {
	store *Store
}

// Open returns a reader over a snapshot of the content.
func (b *Body) Open() (io.ReadCloser, error) {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	if b.store.discarded {
		return nil, domain.ErrStoreClosed
	}
	return io.NopCloser(bytes.NewReader(b.store.buf.Bytes())), nil
}

// Size returns the number of bytes in the body.
func (b *Body) Size() int64 {
	return b.store.Len()
}

// Discard releases the underlying store.
func (b *Body) Discard() error {
	return b.store.Discard()
}
