package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/aretw0/spooler/internal/logging"
	"github.com/aretw0/spooler/pkg/domain"
	"github.com/aretw0/spooler/pkg/session"
)

type connKey struct{}

// connIO is the transport side of one connection: it writes interim responses
// to, and collects forwarded units for, the request currently being served.
// HTTP/1.x serves the requests of a connection one after the other.
type connIO struct {
	id string

	mu  sync.Mutex
	cur *exchange
}

// exchange is one request/response pair on a connection.
type exchange struct {
	w       http.ResponseWriter
	message *domain.Message
}

func (c *connIO) bind(ex *exchange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = ex
}

func (c *connIO) current() (*exchange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil, fmt.Errorf("connection %s: no request in flight", c.id)
	}
	return c.cur, nil
}

// WriteContinue sends "100 Continue" on the current request.
func (c *connIO) WriteContinue(ctx context.Context) error {
	ex, err := c.current()
	if err != nil {
		return err
	}
	ex.w.WriteHeader(http.StatusContinue)
	return nil
}

// Receive captures the message the gate hands downstream.
func (c *connIO) Receive(ctx context.Context, unit domain.Unit) error {
	ex, err := c.current()
	if err != nil {
		return err
	}
	switch u := unit.(type) {
	case domain.FullMessage:
		ex.message = u.Message
	case domain.Opaque:
		// Nothing travels beside requests on an HTTP connection
	default:
		return errors.New("unexpected unit from gate")
	}
	return nil
}

func connFromContext(ctx context.Context) (*connIO, bool) {
	c, ok := ctx.Value(connKey{}).(*connIO)
	return c, ok
}

// Tracker assigns an ID to every accepted connection and releases its gate when
// the connection goes away, so that half-received bodies never outlive it.
// Install ConnContext and ConnState on the http.Server.
type Tracker struct {
	manager *session.Manager
	logger  *slog.Logger
	seq     atomic.Uint64

	mu    sync.Mutex
	conns map[net.Conn]string
}

// NewTracker creates a Tracker releasing connections through manager.
func NewTracker(manager *session.Manager, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tracker{
		manager: manager,
		logger:  logger,
		conns:   make(map[net.Conn]string),
	}
}

// ConnContext is suitable for http.Server.ConnContext.
func (t *Tracker) ConnContext(ctx context.Context, c net.Conn) context.Context {
	id := fmt.Sprintf("conn-%d", t.seq.Add(1))

	t.mu.Lock()
	t.conns[c] = id
	t.mu.Unlock()

	return context.WithValue(ctx, connKey{}, &connIO{id: id})
}

// ConnState is suitable for http.Server.ConnState.
func (t *Tracker) ConnState(c net.Conn, state http.ConnState) {
	if state != http.StateClosed && state != http.StateHijacked {
		return
	}

	t.mu.Lock()
	id, ok := t.conns[c]
	delete(t.conns, c)
	t.mu.Unlock()

	if !ok {
		return
	}
	if err := t.manager.Release(context.Background(), id); err != nil {
		t.logger.Warn("failed to release connection", "conn_id", id, "err", err)
	}
}

// Install wires the tracker into srv.
func (t *Tracker) Install(srv *http.Server) {
	srv.ConnContext = t.ConnContext
	srv.ConnState = t.ConnState
}
