package runtime

import (
	"context"

	"github.com/aretw0/spooler/pkg/domain"
)

// assemble merges one body fragment into the active session.
//
// Overflow policy is truncate-and-flag: a fragment that would take the stored
// body past the limit is dropped and the pending message gets the overflow
// warning. The connection stays up and already stored bytes are kept.
func (e *Engine) assemble(ctx context.Context, conn Conn, state State, frag domain.BodyFragment) (State, []domain.Unit, error) {
	sess := state.Session
	size := int64(len(frag.Data))

	if sess.Overflowed || e.exceeds(sess.Store.Len(), size) {
		if !sess.Overflowed {
			sess.Overflowed = true
			sess.Pending.MarkOverflow()
			e.logger.Warn("content length exceeded, dropping body fragments",
				"session_id", sess.ID,
				"conn_id", conn.ID,
				"limit", e.maxContentLength,
				"stored", sess.Store.Len(),
			)
			if e.hooks.OnOverflow != nil {
				e.hooks.OnOverflow(ctx, e.fragmentEvent(domain.EventOverflow, conn, sess, size))
			}
		}
		if e.hooks.OnFragment != nil {
			e.hooks.OnFragment(ctx, e.fragmentEvent(domain.EventFragment, conn, sess, size))
		}
	} else {
		if size > 0 {
			// Synchronous: the calling goroutine blocks for the disk write.
			if _, err := sess.Store.Write(frag.Data); err != nil {
				err = storageError("write", sess.ID, err)
				return e.Abort(ctx, conn, state, err), nil, err
			}
		}
		if e.hooks.OnFragment != nil {
			e.hooks.OnFragment(ctx, e.fragmentEvent(domain.EventFragment, conn, sess, 0))
		}
	}

	if !frag.Last {
		return state, nil, nil
	}
	return e.finalize(ctx, conn, state)
}

// exceeds applies the size check: stored > limit - incoming.
func (e *Engine) exceeds(stored, incoming int64) bool {
	return e.maxContentLength != domain.Unlimited && stored > e.maxContentLength-incoming
}

// finalize closes the store and hands the completed message downstream.
// The declared length is what the store holds, not what the sender sent.
func (e *Engine) finalize(ctx context.Context, conn Conn, state State) (State, []domain.Unit, error) {
	sess := state.Session

	if err := sess.Store.Finalize(); err != nil {
		err = storageError("finalize", sess.ID, err)
		return e.Abort(ctx, conn, state, err), nil, err
	}
	body, err := sess.Store.Body()
	if err != nil {
		err = storageError("finalize", sess.ID, err)
		return e.Abort(ctx, conn, state, err), nil, err
	}

	msg := sess.Pending
	msg.SetContentLength(sess.Store.Len())
	msg.Body = body

	e.logger.Debug("session finalized",
		"session_id", sess.ID,
		"conn_id", conn.ID,
		"bytes", msg.ContentLength,
		"overflowed", sess.Overflowed,
	)
	if e.hooks.OnFinalize != nil {
		e.hooks.OnFinalize(ctx, e.sessionEvent(domain.EventFinalize, conn, sess, msg.ContentLength, nil))
	}

	return State{}, []domain.Unit{domain.FullMessage{Message: msg}}, nil
}

func (e *Engine) fragmentEvent(typ domain.EventType, conn Conn, sess *Session, dropped int64) *domain.SessionEvent {
	ev := e.sessionEvent(typ, conn, sess, sess.Store.Len(), nil)
	ev.Dropped = dropped
	return ev
}
