package runtime_test

import (
	"context"

	"github.com/aretw0/spooler/pkg/domain"
	"github.com/aretw0/spooler/pkg/ports"
	"github.com/stretchr/testify/mock"
)

type mockInterim struct {
	mock.Mock
}

func (m *mockInterim) WriteContinue(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockFactory struct {
	mock.Mock
}

func (m *mockFactory) Open(ctx context.Context, sessionID string) (ports.BackingStore, error) {
	args := m.Called(ctx, sessionID)
	store, _ := args.Get(0).(ports.BackingStore)
	return store, args.Error(1)
}

// faultyStore wraps a real store and injects failures.
type faultyStore struct {
	ports.BackingStore
	writeErr    error
	finalizeErr error
	discarded   int
}

func (s *faultyStore) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.BackingStore.Write(p)
}

func (s *faultyStore) Finalize() error {
	if s.finalizeErr != nil {
		return s.finalizeErr
	}
	return s.BackingStore.Finalize()
}

func (s *faultyStore) Discard() error {
	s.discarded++
	return s.BackingStore.Discard()
}

func frag(data string, last bool) domain.BodyFragment {
	return domain.BodyFragment{Data: []byte(data), Last: last}
}
