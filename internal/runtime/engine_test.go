package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aretw0/spooler/internal/runtime"
	"github.com/aretw0/spooler/internal/testutils"
	"github.com/aretw0/spooler/pkg/adapters/memory"
	"github.com/aretw0/spooler/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// feed runs units through the engine, collecting everything forwarded.
func feed(t *testing.T, e *runtime.Engine, conn runtime.Conn, state runtime.State, units ...domain.Unit) (runtime.State, []domain.Unit) {
	t.Helper()
	var out []domain.Unit
	for _, u := range units {
		var emitted []domain.Unit
		var err error
		state, emitted, err = e.Step(context.Background(), conn, state, u)
		require.NoError(t, err)
		out = append(out, emitted...)
	}
	return state, out
}

func finalized(t *testing.T, out []domain.Unit) *domain.Message {
	t.Helper()
	require.Len(t, out, 1, "exactly one unit should be emitted")
	full, ok := out[0].(domain.FullMessage)
	require.True(t, ok, "finalized message should be emitted as a FullMessage, got %T", out[0])
	return full.Message
}

func TestEngine_Example1_WithinLimit(t *testing.T) {
	e := runtime.NewEngine(memory.NewFactory(), runtime.WithMaxContentLength(10))

	state, out := feed(t, e, runtime.Conn{ID: "c1"}, runtime.State{},
		domain.ChunkedHeader{Message: testutils.ChunkedRequest(false)},
		frag("ABC", false),
		frag("DE", true),
	)

	assert.False(t, state.Active())
	msg := finalized(t, out)
	assert.Equal(t, "ABCDE", testutils.ReadBody(t, msg.Body))
	assert.Equal(t, int64(5), msg.ContentLength)
	assert.Equal(t, "5", msg.Header.Get("Content-Length"))
	assert.False(t, msg.Overflowed())
	assert.Empty(t, msg.Header.Get("Transfer-Encoding"))
}

func TestEngine_Example2_SingleFragmentOverflow(t *testing.T) {
	e := runtime.NewEngine(memory.NewFactory(), runtime.WithMaxContentLength(4))

	_, out := feed(t, e, runtime.Conn{ID: "c1"}, runtime.State{},
		domain.ChunkedHeader{Message: testutils.ChunkedRequest(false)},
		frag("ABCDE", true),
	)

	msg := finalized(t, out)
	assert.True(t, msg.Overflowed())
	assert.Equal(t, int64(0), msg.ContentLength)
	assert.Equal(t, "0", msg.Header.Get("Content-Length"))
	assert.Equal(t, "", testutils.ReadBody(t, msg.Body))
}

func TestEngine_Example3_Continue(t *testing.T) {
	var order []string
	interim := &mockInterim{}
	interim.On("WriteContinue", mock.Anything).Run(func(mock.Arguments) {
		order = append(order, "100-continue")
	}).Return(nil).Once()

	e := runtime.NewEngine(memory.NewFactory())
	conn := runtime.Conn{ID: "c1", Interim: interim}

	head := testutils.ChunkedRequest(false)
	head.Header.Set("Expect", "100-continue")

	state, out := feed(t, e, conn, runtime.State{}, domain.ChunkedHeader{Message: head})
	assert.Empty(t, out)
	order = append(order, "head processed")

	_, out = feed(t, e, conn, state, frag("X", true))
	msg := finalized(t, out)
	order = append(order, "finalized")

	assert.Equal(t, "X", testutils.ReadBody(t, msg.Body))
	assert.Equal(t, []string{"100-continue", "head processed", "finalized"}, order)
	interim.AssertExpectations(t)
}

func TestEngine_NoContinueWithoutExpectation(t *testing.T) {
	interim := &mockInterim{}
	e := runtime.NewEngine(memory.NewFactory())

	_, out := feed(t, e, runtime.Conn{ID: "c1", Interim: interim}, runtime.State{},
		domain.ChunkedHeader{Message: testutils.ChunkedRequest(false)},
		frag("X", true),
	)

	finalized(t, out)
	interim.AssertNotCalled(t, "WriteContinue", mock.Anything)
}

func TestEngine_ConcatenatesInOrder(t *testing.T) {
	limits := []int64{domain.Unlimited, 26, 100}
	for _, limit := range limits {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			e := runtime.NewEngine(memory.NewFactory(), runtime.WithMaxContentLength(limit))

			units := []domain.Unit{domain.ChunkedHeader{Message: testutils.ChunkedRequest(false)}}
			want := ""
			for _, piece := range []string{"abcdefgh", "ijklm", "", "nopqrstuvwxyz"} {
				units = append(units, frag(piece, false))
				want += piece
			}
			units = append(units, frag("", true))

			_, out := feed(t, e, runtime.Conn{ID: "c"}, runtime.State{}, units...)

			msg := finalized(t, out)
			assert.Equal(t, want, testutils.ReadBody(t, msg.Body))
			assert.Equal(t, int64(len(want)), msg.ContentLength)
			assert.False(t, msg.Overflowed())
		})
	}
}

func TestEngine_OverflowIsStickyAndFlaggedOnce(t *testing.T) {
	overflows := 0
	hooks := domain.LifecycleHooks{
		OnOverflow: func(context.Context, *domain.SessionEvent) { overflows++ },
	}
	e := runtime.NewEngine(memory.NewFactory(),
		runtime.WithMaxContentLength(6),
		runtime.WithLifecycleHooks(hooks),
	)

	_, out := feed(t, e, runtime.Conn{ID: "c"}, runtime.State{},
		domain.ChunkedHeader{Message: testutils.ChunkedRequest(false)},
		frag("ABCD", false), // stored: 4
		frag("EFG", false),  // 4 > 6-3: dropped
		frag("H", false),    // would fit, but the body is already truncated
		frag("IJKLMNOP", false),
		frag("Q", true),
	)

	msg := finalized(t, out)
	assert.Equal(t, "ABCD", testutils.ReadBody(t, msg.Body))
	assert.Equal(t, int64(4), msg.ContentLength)
	assert.Equal(t, []string{domain.OverflowWarning}, msg.Header.Values("Warning"))
	assert.Equal(t, 1, overflows)
}

func TestEngine_ExactlyAtLimit(t *testing.T) {
	e := runtime.NewEngine(memory.NewFactory(), runtime.WithMaxContentLength(5))

	_, out := feed(t, e, runtime.Conn{ID: "c"}, runtime.State{},
		domain.ChunkedHeader{Message: testutils.ChunkedRequest(false)},
		frag("ABC", false),
		frag("DE", true),
	)

	msg := finalized(t, out)
	assert.Equal(t, "ABCDE", testutils.ReadBody(t, msg.Body))
	assert.False(t, msg.Overflowed())
}

func TestEngine_FullMessagePassesThrough(t *testing.T) {
	factory := &mockFactory{}
	e := runtime.NewEngine(factory)

	msg := domain.NewRequest("GET", "/")
	msg.Header.Set("X-Test", "1")
	unit := domain.FullMessage{Message: msg}

	state, out, err := e.Step(context.Background(), runtime.Conn{ID: "c"}, runtime.State{}, unit)
	require.NoError(t, err)

	assert.False(t, state.Active())
	require.Len(t, out, 1)
	assert.Equal(t, unit, out[0])
	assert.Same(t, msg, out[0].(domain.FullMessage).Message)
	assert.Nil(t, msg.Body)
	factory.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
}

func TestEngine_OpaquePassesThroughDuringSession(t *testing.T) {
	e := runtime.NewEngine(memory.NewFactory())
	conn := runtime.Conn{ID: "c"}

	state, _ := feed(t, e, conn, runtime.State{}, domain.ChunkedHeader{Message: testutils.ChunkedRequest(false)})
	session := state.Session

	state, out := feed(t, e, conn, state, domain.Opaque{Value: "ping"})
	assert.Equal(t, []domain.Unit{domain.Opaque{Value: "ping"}}, out)
	assert.Same(t, session, state.Session, "opaque units must not touch the session")
}

func TestEngine_EmptyTerminalFragment(t *testing.T) {
	e := runtime.NewEngine(memory.NewFactory())

	t.Run("with accumulated bytes", func(t *testing.T) {
		_, out := feed(t, e, runtime.Conn{ID: "c"}, runtime.State{},
			domain.ChunkedHeader{Message: testutils.ChunkedRequest(false)},
			frag("hello", false),
			domain.BodyFragment{Last: true},
		)
		msg := finalized(t, out)
		assert.Equal(t, int64(5), msg.ContentLength)
	})

	t.Run("without any body", func(t *testing.T) {
		state, out := feed(t, e, runtime.Conn{ID: "c"}, runtime.State{},
			domain.ChunkedHeader{Message: testutils.ChunkedRequest(false)},
			domain.BodyFragment{Last: true},
		)
		assert.False(t, state.Active())
		msg := finalized(t, out)
		assert.Equal(t, int64(0), msg.ContentLength)
		assert.Equal(t, "", testutils.ReadBody(t, msg.Body))
	})
}

func TestEngine_SessionsAreIndependent(t *testing.T) {
	factory := memory.NewFactory()
	e := runtime.NewEngine(factory, runtime.WithMaxContentLength(3))
	conn := runtime.Conn{ID: "c"}
	ctx := context.Background()

	state, _, err := e.Step(ctx, conn, runtime.State{}, domain.ChunkedHeader{Message: testutils.ChunkedRequest(false)})
	require.NoError(t, err)
	firstID := state.Session.ID

	state, out := feed(t, e, conn, state, frag("TOO LONG", true))
	first := finalized(t, out)
	assert.True(t, first.Overflowed())

	state, _, err = e.Step(ctx, conn, state, domain.ChunkedHeader{Message: testutils.ChunkedRequest(false)})
	require.NoError(t, err)
	require.True(t, state.Active())
	assert.NotEqual(t, firstID, state.Session.ID)
	assert.Equal(t, int64(0), state.Session.Store.Len())

	_, out = feed(t, e, conn, state, frag("ok", true))
	second := finalized(t, out)
	assert.False(t, second.Overflowed())
	assert.Equal(t, "ok", testutils.ReadBody(t, second.Body))
}

func TestEngine_PreservesOtherEncodings(t *testing.T) {
	e := runtime.NewEngine(memory.NewFactory())
	head := domain.NewResponse(200)
	head.Header.Set("Transfer-Encoding", "gzip, chunked")

	_, out := feed(t, e, runtime.Conn{ID: "c"}, runtime.State{},
		domain.ChunkedHeader{Message: head},
		frag("x", true),
	)

	msg := finalized(t, out)
	assert.Equal(t, "gzip", msg.Header.Get("Transfer-Encoding"))
}

func TestEngine_UnexpectedUnits(t *testing.T) {
	ctx := context.Background()
	conn := runtime.Conn{ID: "c"}

	t.Run("fragment while idle", func(t *testing.T) {
		e := runtime.NewEngine(memory.NewFactory())
		state, out, err := e.Step(ctx, conn, runtime.State{}, frag("x", false))
		assert.ErrorIs(t, err, domain.ErrUnexpectedFragment)
		assert.Empty(t, out)
		assert.False(t, state.Active())
	})

	t.Run("head while active", func(t *testing.T) {
		factory := memory.NewFactory()
		e := runtime.NewEngine(factory)
		state, _ := feed(t, e, conn, runtime.State{}, domain.ChunkedHeader{Message: testutils.ChunkedRequest(false)})
		require.Len(t, factory.Live(), 1)

		state, out, err := e.Step(ctx, conn, state, domain.FullMessage{Message: domain.NewRequest("GET", "/")})
		assert.ErrorIs(t, err, domain.ErrUnexpectedMessage)
		assert.Empty(t, out)
		assert.False(t, state.Active())
		assert.Empty(t, factory.Live(), "session storage should be released")
	})
}

func TestEngine_StorageFailures(t *testing.T) {
	ctx := context.Background()
	conn := runtime.Conn{ID: "c"}
	diskFull := errors.New("no space left on device")

	t.Run("open", func(t *testing.T) {
		factory := &mockFactory{}
		factory.On("Open", mock.Anything, "fixed-id").Return(nil, diskFull)
		e := runtime.NewEngine(factory, runtime.WithIDGenerator(func() string { return "fixed-id" }))

		state, _, err := e.Step(ctx, conn, runtime.State{}, domain.ChunkedHeader{Message: testutils.ChunkedRequest(false)})
		assert.ErrorIs(t, err, domain.ErrStorage)
		assert.ErrorIs(t, err, diskFull)
		assert.False(t, state.Active())
	})

	for _, tc := range []struct {
		name  string
		store func(inner *faultyStore)
	}{
		{"write", func(s *faultyStore) { s.writeErr = diskFull }},
		{"finalize", func(s *faultyStore) { s.finalizeErr = diskFull }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			inner, err := memory.NewFactory().Open(ctx, "s")
			require.NoError(t, err)
			store := &faultyStore{BackingStore: inner}
			tc.store(store)

			factory := &mockFactory{}
			factory.On("Open", mock.Anything, mock.Anything).Return(store, nil)
			e := runtime.NewEngine(factory)

			state, _ := feed(t, e, conn, runtime.State{}, domain.ChunkedHeader{Message: testutils.ChunkedRequest(false)})
			state, out, err := e.Step(ctx, conn, state, frag("data", true))

			assert.ErrorIs(t, err, domain.ErrStorage)
			assert.ErrorIs(t, err, diskFull)
			assert.Empty(t, out)
			assert.False(t, state.Active())
			assert.Equal(t, 1, store.discarded, "store must be released exactly once")
		})
	}
}

func TestEngine_HandshakeFailureAborts(t *testing.T) {
	factory := memory.NewFactory()
	interim := &mockInterim{}
	interim.On("WriteContinue", mock.Anything).Return(errors.New("broken pipe"))
	e := runtime.NewEngine(factory)

	head := testutils.ChunkedRequest(false)
	head.Header.Set("Expect", "100-continue")

	state, _, err := e.Step(context.Background(), runtime.Conn{ID: "c", Interim: interim}, runtime.State{}, domain.ChunkedHeader{Message: head})
	assert.Error(t, err)
	assert.False(t, state.Active())
	assert.Empty(t, factory.Live())
}

func TestEngine_Abort(t *testing.T) {
	factory := memory.NewFactory()
	var aborted []string
	e := runtime.NewEngine(factory, runtime.WithLifecycleHooks(domain.LifecycleHooks{
		OnAbort: func(_ context.Context, ev *domain.SessionEvent) { aborted = append(aborted, ev.SessionID) },
	}))
	conn := runtime.Conn{ID: "c"}

	state, _ := feed(t, e, conn, runtime.State{},
		domain.ChunkedHeader{Message: testutils.ChunkedRequest(false)},
		frag("partial", false),
	)
	id := state.Session.ID

	state = e.Abort(context.Background(), conn, state, domain.ErrConnectionClosed)
	assert.False(t, state.Active())
	assert.Empty(t, factory.Live())
	assert.Equal(t, []string{id}, aborted)

	// Aborting an idle connection is a no-op
	state = e.Abort(context.Background(), conn, state, nil)
	assert.False(t, state.Active())
	assert.Len(t, aborted, 1)
}

func TestEngine_Hooks(t *testing.T) {
	var events []domain.EventType
	record := func(_ context.Context, ev *domain.SessionEvent) { events = append(events, ev.Type) }
	hooks := domain.LifecycleHooks{
		OnSessionStart: record,
		OnContinue:     record,
		OnFragment:     record,
		OnOverflow:     record,
		OnFinalize:     record,
		OnPassThrough:  func(_ context.Context, ev *domain.EventBase) { events = append(events, ev.Type) },
	}
	interim := &mockInterim{}
	interim.On("WriteContinue", mock.Anything).Return(nil)
	e := runtime.NewEngine(memory.NewFactory(), runtime.WithMaxContentLength(2), runtime.WithLifecycleHooks(hooks))

	head := testutils.ChunkedRequest(false)
	head.Header.Set("Expect", "100-continue")
	feed(t, e, runtime.Conn{ID: "c", Interim: interim}, runtime.State{},
		domain.FullMessage{Message: domain.NewRequest("GET", "/")},
		domain.ChunkedHeader{Message: head},
		frag("ab", false),
		frag("c", true),
	)

	assert.Equal(t, []domain.EventType{
		domain.EventPassThrough,
		domain.EventSessionStart,
		domain.EventContinue,
		domain.EventFragment,
		domain.EventOverflow,
		domain.EventFragment,
		domain.EventFinalize,
	}, events)
}
