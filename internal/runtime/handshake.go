package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/spooler/pkg/domain"
)

// handshake answers an "Expect: 100-continue" with exactly one interim response,
// before any body fragment is processed.
func (e *Engine) handshake(ctx context.Context, conn Conn, sess *Session) error {
	if !sess.Pending.ExpectsContinue() {
		return nil
	}
	if conn.Interim == nil {
		e.logger.Warn("client expects 100-continue but the connection has no interim writer",
			"session_id", sess.ID,
			"conn_id", conn.ID,
		)
		return nil
	}

	if err := conn.Interim.WriteContinue(ctx); err != nil {
		return fmt.Errorf("failed to write 100 Continue: %w", err)
	}
	if e.hooks.OnContinue != nil {
		e.hooks.OnContinue(ctx, e.sessionEvent(domain.EventContinue, conn, sess, 0, nil))
	}
	return nil
}
