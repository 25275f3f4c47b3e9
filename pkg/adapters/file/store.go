package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/aretw0/spooler/pkg/domain"
	"github.com/aretw0/spooler/pkg/ports"
)

// Factory implements ports.StoreFactory on the local filesystem.
// Every store is a file named after its session ID inside Dir.
type Factory struct {
	Dir string
}

// NewFactory creates a Factory spooling into dir.
// If dir is empty, it defaults to "spooler" under the system temporary directory.
func NewFactory(dir string) *Factory {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "spooler")
	}
	return &Factory{Dir: dir}
}

// Open creates the spool file for sessionID. The file must not exist yet.
func (f *Factory) Open(ctx context.Context, sessionID string) (ports.BackingStore, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionID cannot be empty", domain.ErrStorage)
	}
	if err := os.MkdirAll(f.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: failed to ensure spool directory: %v", domain.ErrStorage, err)
	}

	path := filepath.Join(f.Dir, sessionID)
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create spool file: %v", domain.ErrStorage, err)
	}
	return &Store{path: path, out: fh}, nil
}

// Store is an append-only spool file.
type Store struct {
	mu        sync.Mutex
	path      string
	out       *os.File
	size      int64
	finalized bool
	discarded bool
}

// Path returns the location of the spool file.
func (s *Store) Path() string {
	return s.path
}

// Write appends p to the spool file. The write is synchronous.
func (s *Store) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.discarded:
		return 0, domain.ErrStoreClosed
	case s.finalized:
		return 0, domain.ErrStoreFinalized
	}

	n, err := s.out.Write(p)
	s.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("%w: failed to write spool file: %v", domain.ErrStorage, err)
	}
	return n, nil
}

// Finalize syncs and closes the spool file.
func (s *Store) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.discarded:
		return domain.ErrStoreClosed
	case s.finalized:
		return nil
	}

	s.finalized = true
	syncErr := s.out.Sync()
	closeErr := s.out.Close()
	if err := errors.Join(syncErr, closeErr); err != nil {
		return fmt.Errorf("%w: failed to finalize spool file: %v", domain.ErrStorage, err)
	}
	return nil
}

// Len returns the number of bytes written so far.
func (s *Store) Len() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Body returns a file-backed view of the finalized content.
func (s *Store) Body() (domain.Body, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.discarded:
		return nil, domain.ErrStoreClosed
	case !s.finalized:
		return nil, domain.ErrStoreNotFinalized
	}
	return &Body{path: s.path, size: s.size}, nil
}

// Discard closes the file (if still open) and removes it.
func (s *Store) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.discarded {
		return nil
	}
	s.discarded = true

	var closeErr error
	if !s.finalized {
		closeErr = s.out.Close()
	}
	return errors.Join(closeErr, removeFile(s.path))
}

// Body is a finalized spool file. It is read from disk on every Open.
type Body struct {
	path string
	size int64
}

// Open returns a reader over the spooled content.
func (b *Body) Open() (io.ReadCloser, error) {
	fh, err := os.Open(b.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spool file: %w", err)
	}
	return fh, nil
}

// Size returns the number of bytes in the body.
func (b *Body) Size() int64 {
	return b.size
}

// Path returns the location of the spool file.
func (b *Body) Path() string {
	return b.path
}

// Discard removes the spool file.
func (b *Body) Discard() error {
	return removeFile(b.path)
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove spool file: %w", err)
	}
	return nil
}
