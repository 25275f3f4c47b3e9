package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/spooler/pkg/domain"
)

// start opens a session for a chunked message head.
func (e *Engine) start(ctx context.Context, conn Conn, msg *domain.Message) (State, []domain.Unit, error) {
	id := e.newID()

	store, err := e.factory.Open(ctx, id)
	if err != nil {
		return State{}, nil, storageError("open", id, err)
	}

	msg.StripChunked()
	sess := &Session{
		ID:        id,
		Pending:   msg,
		Store:     store,
		StartedAt: e.now(),
	}
	state := State{Session: sess}

	e.logger.Debug("session started", "session_id", id, "conn_id", conn.ID, "expect_continue", msg.ExpectsContinue())
	if e.hooks.OnSessionStart != nil {
		e.hooks.OnSessionStart(ctx, e.sessionEvent(domain.EventSessionStart, conn, sess, 0, nil))
	}

	if err := e.handshake(ctx, conn, sess); err != nil {
		return e.Abort(ctx, conn, state, err), nil, err
	}
	return state, nil, nil
}

// storageError makes sure every backing store failure can be matched with domain.ErrStorage.
func storageError(op, sessionID string, err error) error {
	if errors.Is(err, domain.ErrStorage) {
		return fmt.Errorf("session %s: %s: %w", sessionID, op, err)
	}
	return fmt.Errorf("%w: session %s: %s: %w", domain.ErrStorage, sessionID, op, err)
}
