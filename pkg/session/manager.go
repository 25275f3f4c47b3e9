package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/spooler"
	"github.com/aretw0/spooler/internal/logging"
	"github.com/aretw0/spooler/pkg/domain"
	"github.com/aretw0/spooler/pkg/ports"
)

// Manager keeps one Gate per live connection.
// It is safe for concurrent use across connections; units of a single
// connection must still be delivered in order by the caller.
type Manager struct {
	spooler *spooler.Spooler

	mu    sync.Mutex               // Global lock for the map
	conns map[string]*spooler.Gate // Gates of live connections

	logger *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager creating gates from sp.
func NewManager(sp *spooler.Spooler, opts ...Option) *Manager {
	m := &Manager{
		spooler: sp,
		conns:   make(map[string]*spooler.Gate),
		logger:  logging.NewNop(), // Default to no-op
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attach returns the gate for connID, creating it on first use.
// interim and next are only used when the gate is created.
func (m *Manager) Attach(connID string, interim ports.Interim, next ports.Stage) *spooler.Gate {
	m.mu.Lock()
	defer m.mu.Unlock()

	gate, exists := m.conns[connID]
	if !exists {
		gate = m.spooler.NewGate(connID, interim, next)
		m.conns[connID] = gate
		m.logger.Debug("connection attached", "conn_id", connID)
	}
	return gate
}

// Gate returns the gate of a live connection.
func (m *Manager) Gate(connID string) (*spooler.Gate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gate, ok := m.conns[connID]
	return gate, ok
}

// Handle delivers a unit to the gate of connID.
// Returns domain.ErrConnectionClosed if the connection is unknown or was released.
func (m *Manager) Handle(ctx context.Context, connID string, unit domain.Unit) error {
	gate, ok := m.Gate(connID)
	if !ok {
		return fmt.Errorf("connection %s: %w", connID, domain.ErrConnectionClosed)
	}
	return gate.Handle(ctx, unit)
}

// Release closes the gate of connID, discarding any half-received body.
// Transports call it when the connection closes. Releasing an unknown connection is a no-op.
func (m *Manager) Release(ctx context.Context, connID string) error {
	m.mu.Lock()
	gate, ok := m.conns[connID]
	delete(m.conns, connID)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	if gate.Active() {
		m.logger.Info("connection closed mid-body, discarding session",
			"conn_id", connID,
			"session_id", gate.SessionID(),
		)
	}
	return gate.Close(ctx)
}

// Connections returns the number of live connections.
func (m *Manager) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Active returns the number of connections currently aggregating a body.
func (m *Manager) Active() int {
	m.mu.Lock()
	gates := make([]*spooler.Gate, 0, len(m.conns))
	for _, g := range m.conns {
		gates = append(gates, g)
	}
	m.mu.Unlock()

	n := 0
	for _, g := range gates {
		if g.Active() {
			n++
		}
	}
	return n
}

// Shutdown releases every connection.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Release(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
