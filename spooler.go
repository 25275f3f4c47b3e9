package spooler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/spooler/internal/logging"
	"github.com/aretw0/spooler/internal/runtime"
	"github.com/aretw0/spooler/pkg/adapters/file"
	"github.com/aretw0/spooler/pkg/domain"
	"github.com/aretw0/spooler/pkg/ports"
)

// Version is the module release.
const Version = "0.3.0"

// Spooler is the high-level entry point of the library.
// It holds the configuration shared by all connections and creates their gates.
type Spooler struct {
	engine           *runtime.Engine
	factory          ports.StoreFactory
	registry         ports.SessionRegistry
	refresh          time.Duration
	tempDir          string
	maxContentLength int64
	hooks            domain.LifecycleHooks
	logger           *slog.Logger
	idGenerator      func() string
}

// Option defines a functional option for configuring the Spooler.
type Option func(*Spooler)

// WithTempDir sets the directory spool files are created in.
// Ignored when WithStoreFactory is used.
func WithTempDir(dir string) Option {
	return func(s *Spooler) {
		s.tempDir = dir
	}
}

// WithStoreFactory injects a custom backing store factory, bypassing the default file spooling.
func WithStoreFactory(f ports.StoreFactory) Option {
	return func(s *Spooler) {
		s.factory = f
	}
}

// WithMaxContentLength limits the number of body bytes stored per message.
// domain.Unlimited (the default) disables the limit.
func WithMaxContentLength(n int64) Option {
	return func(s *Spooler) {
		s.maxContentLength = n
	}
}

// WithRegistry records active sessions in the given registry.
func WithRegistry(r ports.SessionRegistry) Option {
	return func(s *Spooler) {
		s.registry = r
	}
}

// WithRegistryRefresh re-saves the record of an active session when fragments
// arrive and at least every has passed since it was last saved, so that records
// of long uploads do not expire from a registry with a TTL. Zero disables it.
func WithRegistryRefresh(every time.Duration) Option {
	return func(s *Spooler) {
		s.refresh = every
	}
}

// WithLifecycleHooks registers observability hooks.
// May be given more than once; hooks run in registration order.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(s *Spooler) {
		s.hooks = s.hooks.Merge(hooks)
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Spooler) {
		s.logger = logger
	}
}

// WithIDGenerator overrides session ID generation (UUIDv4 by default).
// Generated IDs must be unique process-wide: they name the spool files.
func WithIDGenerator(fn func() string) Option {
	return func(s *Spooler) {
		s.idGenerator = fn
	}
}

// New initializes a Spooler.
func New(opts ...Option) (*Spooler, error) {
	s := &Spooler{maxContentLength: domain.Unlimited}
	for _, opt := range opts {
		opt(s)
	}

	if s.maxContentLength < 0 && s.maxContentLength != domain.Unlimited {
		return nil, fmt.Errorf("invalid max content length %d", s.maxContentLength)
	}
	if s.factory == nil {
		s.factory = file.NewFactory(s.tempDir)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}

	engineOpts := []runtime.EngineOption{
		runtime.WithMaxContentLength(s.maxContentLength),
		runtime.WithLifecycleHooks(s.hooks),
		runtime.WithLogger(s.logger),
	}
	if s.idGenerator != nil {
		engineOpts = append(engineOpts, runtime.WithIDGenerator(s.idGenerator))
	}
	s.engine = runtime.NewEngine(s.factory, engineOpts...)

	return s, nil
}

// MaxContentLength returns the configured limit (domain.Unlimited when disabled).
func (s *Spooler) MaxContentLength() int64 {
	return s.maxContentLength
}

// Registry returns the session registry, or nil if none is configured.
func (s *Spooler) Registry() ports.SessionRegistry {
	return s.registry
}

// NewGate creates the gate for one connection.
// interim may be nil if the transport cannot send informational responses.
func (s *Spooler) NewGate(connID string, interim ports.Interim, next ports.Stage) *Gate {
	return &Gate{
		spooler: s,
		conn:    runtime.Conn{ID: connID, Interim: interim},
		next:    next,
		logger:  s.logger.With("conn_id", connID),
	}
}

// Gate is the pipeline-facing entry point for one connection.
//
// Units of a connection must be delivered in order, but may come from different
// goroutines: the gate's mutex orders the state handoff between calls.
// The next stage is called with that mutex held and must not call back into the gate.
type Gate struct {
	spooler *Spooler
	conn    runtime.Conn
	next    ports.Stage
	logger  *slog.Logger

	mu      sync.Mutex
	state   runtime.State
	closed  bool
	savedAt time.Time
}

// Handle processes one inbound unit, forwarding whatever it produces to the next stage.
//
// Errors wrapping domain.ErrStorage mean the body could not be spooled; the
// session has been torn down and the connection should be closed.
func (g *Gate) Handle(ctx context.Context, unit domain.Unit) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return domain.ErrConnectionClosed
	}

	before := g.state
	next, out, err := g.spooler.engine.Step(ctx, g.conn, g.state, unit)
	g.state = next
	g.track(ctx, before, next)
	if err != nil {
		g.logger.Error("failed to process inbound unit", "err", err)
		return err
	}

	for i, u := range out {
		if err := g.next.Receive(ctx, u); err != nil {
			if before.Session != nil {
				g.release(out[i:])
			}
			return fmt.Errorf("next stage failed: %w", err)
		}
	}
	return nil
}

// release discards the spooled bodies of messages the next stage did not take.
func (g *Gate) release(units []domain.Unit) {
	for _, u := range units {
		full, ok := u.(domain.FullMessage)
		if !ok || full.Message == nil || full.Message.Body == nil {
			continue
		}
		if err := full.Message.Body.Discard(); err != nil {
			g.logger.Warn("failed to release undelivered body", "err", err)
		}
	}
}

// Active reports whether a body is being aggregated.
func (g *Gate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Active()
}

// SessionID returns the ID of the active session, or "" when idle.
func (g *Gate) SessionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Session == nil {
		return ""
	}
	return g.state.Session.ID
}

// ConnectionID returns the connection the gate belongs to.
func (g *Gate) ConnectionID() string {
	return g.conn.ID
}

// Reset drops the active session, if any, keeping the gate usable.
// Transports call it when a body cannot be read to its end.
func (g *Gate) Reset(ctx context.Context, cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.abort(ctx, cause)
}

// Close releases the active session, if any, and rejects further units.
// It must be called when the connection goes away. It is idempotent.
func (g *Gate) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	g.abort(ctx, domain.ErrConnectionClosed)
	return nil
}

func (g *Gate) abort(ctx context.Context, cause error) {
	before := g.state
	g.state = g.spooler.engine.Abort(ctx, g.conn, g.state, cause)
	g.track(ctx, before, g.state)
}

// track mirrors session starts and ends into the registry.
func (g *Gate) track(ctx context.Context, before, after runtime.State) {
	reg := g.spooler.registry
	if reg == nil {
		return
	}

	if before.Session == after.Session {
		if after.Session != nil && g.spooler.refresh > 0 && time.Since(g.savedAt) >= g.spooler.refresh {
			g.save(ctx, reg, after.Session)
		}
		return
	}

	if before.Session != nil {
		if err := reg.Delete(ctx, before.Session.ID); err != nil {
			g.logger.Warn("failed to unregister session", "session_id", before.Session.ID, "err", err)
		}
	}
	if after.Session != nil {
		g.save(ctx, reg, after.Session)
	}
}

func (g *Gate) save(ctx context.Context, reg ports.SessionRegistry, sess *runtime.Session) {
	rec := domain.SessionRecord{
		ID:           sess.ID,
		ConnectionID: g.conn.ID,
		StartedAt:    sess.StartedAt,
	}
	if located, ok := sess.Store.(interface{ Path() string }); ok {
		rec.Location = located.Path()
	}
	if err := reg.Save(ctx, rec); err != nil {
		g.logger.Warn("failed to register session", "session_id", sess.ID, "err", err)
		return
	}
	g.savedAt = time.Now()
}
