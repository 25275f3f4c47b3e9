package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/spooler/internal/logging"
	"github.com/aretw0/spooler/pkg/domain"
	"github.com/aretw0/spooler/pkg/ports"
	"github.com/google/uuid"
)

// Conn identifies the connection a unit arrived on, and how to talk back to it.
type Conn struct {
	ID      string
	Interim ports.Interim
}

// Session is an aggregation in progress.
// It is exclusively owned by the State holding it until the terminal fragment is processed.
type Session struct {
	ID        string
	Pending   *domain.Message
	Store     ports.BackingStore
	StartedAt time.Time

	// Overflowed is set once a fragment has been dropped by the size check.
	// Every later fragment of the session is dropped as well.
	Overflowed bool
}

// State is the aggregation state of one connection. The zero value is idle.
type State struct {
	Session *Session
}

// Active reports whether a chunked body is being aggregated.
func (s State) Active() bool {
	return s.Session != nil
}

// Engine is the stateless core of the gate: every call takes the connection
// state and returns the next one. Callers must hand the returned State to the
// next call for the same connection, with a happens-before edge between calls.
type Engine struct {
	factory          ports.StoreFactory
	maxContentLength int64
	newID            func() string
	hooks            domain.LifecycleHooks
	logger           *slog.Logger
	now              func() time.Time
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithMaxContentLength sets the body size limit. domain.Unlimited disables it.
func WithMaxContentLength(n int64) EngineOption {
	return func(e *Engine) {
		e.maxContentLength = n
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithIDGenerator overrides how session IDs are generated. IDs must be unique process-wide.
func WithIDGenerator(fn func() string) EngineOption {
	return func(e *Engine) {
		e.newID = fn
	}
}

// NewEngine creates a new engine spooling bodies into stores created by factory.
func NewEngine(factory ports.StoreFactory, opts ...EngineOption) *Engine {
	e := &Engine{
		factory:          factory,
		maxContentLength: domain.Unlimited,
		newID:            uuid.NewString,
		logger:           logging.NewNop(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxContentLength returns the configured limit.
func (e *Engine) MaxContentLength() int64 {
	return e.maxContentLength
}

// Step applies one inbound unit to the connection state.
// It returns the next state and the units to forward downstream, in order.
//
// On error the returned state is always idle: any session was torn down and its
// storage released. Errors wrapping domain.ErrStorage are fatal for the connection.
func (e *Engine) Step(ctx context.Context, conn Conn, state State, unit domain.Unit) (State, []domain.Unit, error) {
	switch u := unit.(type) {
	case domain.Opaque:
		e.passThrough(ctx, conn)
		return state, []domain.Unit{u}, nil

	case domain.FullMessage:
		if state.Active() {
			return e.Abort(ctx, conn, state, domain.ErrUnexpectedMessage), nil, domain.ErrUnexpectedMessage
		}
		e.passThrough(ctx, conn)
		return state, []domain.Unit{u}, nil

	case domain.ChunkedHeader:
		if state.Active() {
			return e.Abort(ctx, conn, state, domain.ErrUnexpectedMessage), nil, domain.ErrUnexpectedMessage
		}
		return e.start(ctx, conn, u.Message)

	case domain.BodyFragment:
		if !state.Active() {
			return state, nil, domain.ErrUnexpectedFragment
		}
		return e.assemble(ctx, conn, state, u)

	default:
		// Unknown implementations cannot exist outside of domain; treat as opaque.
		return state, []domain.Unit{unit}, nil
	}
}

// Abort tears down the active session, if any, releasing its storage.
// It is used on every failure path and when the connection goes away mid-body.
func (e *Engine) Abort(ctx context.Context, conn Conn, state State, cause error) State {
	sess := state.Session
	if sess == nil {
		return State{}
	}

	stored := sess.Store.Len()
	if err := sess.Store.Discard(); err != nil {
		e.logger.Warn("failed to release backing store", "session_id", sess.ID, "err", err)
	}
	e.logger.Debug("session aborted", "session_id", sess.ID, "conn_id", conn.ID, "bytes", stored, "cause", cause)

	if e.hooks.OnAbort != nil {
		e.hooks.OnAbort(ctx, e.sessionEvent(domain.EventAbort, conn, sess, stored, cause))
	}
	return State{}
}

func (e *Engine) passThrough(ctx context.Context, conn Conn) {
	if e.hooks.OnPassThrough != nil {
		e.hooks.OnPassThrough(ctx, &domain.EventBase{
			Timestamp:    e.now(),
			Type:         domain.EventPassThrough,
			ConnectionID: conn.ID,
		})
	}
}

func (e *Engine) sessionEvent(typ domain.EventType, conn Conn, sess *Session, stored int64, err error) *domain.SessionEvent {
	return &domain.SessionEvent{
		EventBase: domain.EventBase{
			Timestamp:    e.now(),
			Type:         typ,
			ConnectionID: conn.ID,
		},
		SessionID: sess.ID,
		Bytes:     stored,
		Err:       err,
	}
}
