package spooler_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/spooler"
	"github.com/aretw0/spooler/internal/testutils"
	"github.com/aretw0/spooler/pkg/adapters/memory"
	"github.com/aretw0/spooler/pkg/domain"
	"github.com/aretw0/spooler/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector is a Stage recording every unit it receives.
type collector struct {
	mu    sync.Mutex
	units []domain.Unit
}

func (c *collector) Receive(ctx context.Context, u domain.Unit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.units = append(c.units, u)
	return nil
}

func (c *collector) messages(t *testing.T) []*domain.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*domain.Message
	for _, u := range c.units {
		full, ok := u.(domain.FullMessage)
		require.True(t, ok, "unexpected unit %T", u)
		out = append(out, full.Message)
	}
	return out
}

type countingInterim struct {
	mu    sync.Mutex
	count int
}

func (c *countingInterim) WriteContinue(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return nil
}

func TestGate_SpoolsToDisk(t *testing.T) {
	dir := t.TempDir()
	sp, err := spooler.New(spooler.WithTempDir(dir), spooler.WithMaxContentLength(10))
	require.NoError(t, err)

	sink := &collector{}
	interim := &countingInterim{}
	gate := sp.NewGate("conn-1", interim, sink)
	ctx := context.Background()

	require.NoError(t, gate.Handle(ctx, domain.Classify(testutils.ChunkedRequest(true))))
	assert.Equal(t, 1, interim.count)
	require.True(t, gate.Active())

	sessionID := gate.SessionID()
	assert.Equal(t, []string{sessionID}, testutils.SpoolFiles(t, dir), "spool file is named by the session")

	require.NoError(t, gate.Handle(ctx, domain.BodyFragment{Data: []byte("ABC")}))
	require.NoError(t, gate.Handle(ctx, domain.BodyFragment{Data: []byte("DE"), Last: true}))
	assert.False(t, gate.Active())

	msgs := sink.messages(t)
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, "ABCDE", testutils.ReadBody(t, msg.Body))
	assert.Equal(t, "ABCDE", testutils.ReadBody(t, msg.Body), "body is repeatable")
	assert.Equal(t, int64(5), msg.ContentLength)
	assert.False(t, msg.Overflowed())
	assert.Equal(t, 1, interim.count)

	require.NoError(t, msg.Body.Discard())
	assert.Empty(t, testutils.SpoolFiles(t, dir))
}

func TestGate_Overflow(t *testing.T) {
	sp, err := spooler.New(spooler.WithTempDir(t.TempDir()), spooler.WithMaxContentLength(4))
	require.NoError(t, err)
	sink := &collector{}
	gate := sp.NewGate("conn-1", nil, sink)
	ctx := context.Background()

	require.NoError(t, gate.Handle(ctx, domain.Classify(testutils.ChunkedRequest(false))))
	require.NoError(t, gate.Handle(ctx, domain.BodyFragment{Data: []byte("ABCDE"), Last: true}))

	msg := sink.messages(t)[0]
	defer msg.Body.Discard()
	assert.True(t, msg.Overflowed())
	assert.Equal(t, int64(0), msg.ContentLength)
	assert.Equal(t, "", testutils.ReadBody(t, msg.Body))
}

func TestGate_FullMessageDoesNoIO(t *testing.T) {
	factory := memory.NewFactory()
	registry := memory.NewRegistry()
	sp, err := spooler.New(spooler.WithStoreFactory(factory), spooler.WithRegistry(registry))
	require.NoError(t, err)
	sink := &collector{}
	gate := sp.NewGate("conn-1", nil, sink)

	msg := domain.NewRequest("GET", "/")
	require.NoError(t, gate.Handle(context.Background(), domain.Classify(msg)))

	assert.Equal(t, []domain.Unit{domain.FullMessage{Message: msg}}, sink.units)
	assert.Empty(t, factory.Live())
	list, err := registry.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGate_RegistryTracksSessions(t *testing.T) {
	dir := t.TempDir()
	registry := memory.NewRegistry()
	sp, err := spooler.New(spooler.WithTempDir(dir), spooler.WithRegistry(registry))
	require.NoError(t, err)
	gate := sp.NewGate("conn-7", nil, &collector{})
	ctx := context.Background()

	require.NoError(t, gate.Handle(ctx, domain.Classify(testutils.ChunkedRequest(false))))

	list, err := registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, gate.SessionID(), list[0].ID)
	assert.Equal(t, "conn-7", list[0].ConnectionID)
	assert.Equal(t, filepath.Join(dir, list[0].ID), list[0].Location)

	require.NoError(t, gate.Handle(ctx, domain.BodyFragment{Last: true}))

	list, err = registry.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGate_CloseReleasesSession(t *testing.T) {
	dir := t.TempDir()
	registry := memory.NewRegistry()
	var aborted int
	sp, err := spooler.New(
		spooler.WithTempDir(dir),
		spooler.WithRegistry(registry),
		spooler.WithLifecycleHooks(domain.LifecycleHooks{
			OnAbort: func(_ context.Context, ev *domain.SessionEvent) {
				aborted++
				assert.ErrorIs(t, ev.Err, domain.ErrConnectionClosed)
			},
		}),
	)
	require.NoError(t, err)
	gate := sp.NewGate("conn-1", nil, &collector{})
	ctx := context.Background()

	require.NoError(t, gate.Handle(ctx, domain.Classify(testutils.ChunkedRequest(false))))
	require.NoError(t, gate.Handle(ctx, domain.BodyFragment{Data: []byte("half a body")}))
	require.Len(t, testutils.SpoolFiles(t, dir), 1)

	require.NoError(t, gate.Close(ctx))
	require.NoError(t, gate.Close(ctx))

	assert.Empty(t, testutils.SpoolFiles(t, dir), "temporary file must be removed")
	assert.Equal(t, 1, aborted)
	list, err := registry.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	err = gate.Handle(ctx, domain.BodyFragment{Data: []byte("late"), Last: true})
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
}

func TestGate_ResetKeepsConnectionUsable(t *testing.T) {
	dir := t.TempDir()
	sp, err := spooler.New(spooler.WithTempDir(dir))
	require.NoError(t, err)
	sink := &collector{}
	gate := sp.NewGate("conn-1", nil, sink)
	ctx := context.Background()

	require.NoError(t, gate.Handle(ctx, domain.Classify(testutils.ChunkedRequest(false))))
	gate.Reset(ctx, errors.New("client went away"))
	assert.False(t, gate.Active())
	assert.Empty(t, testutils.SpoolFiles(t, dir))

	require.NoError(t, gate.Handle(ctx, domain.Classify(testutils.ChunkedRequest(false))))
	require.NoError(t, gate.Handle(ctx, domain.BodyFragment{Data: []byte("ok"), Last: true}))
	msg := sink.messages(t)[0]
	defer msg.Body.Discard()
	assert.Equal(t, "ok", testutils.ReadBody(t, msg.Body))
}

func TestGate_StorageFailureIsFatal(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	sp, err := spooler.New(spooler.WithTempDir(blocker))
	require.NoError(t, err)
	gate := sp.NewGate("conn-1", nil, &collector{})

	err = gate.Handle(context.Background(), domain.Classify(testutils.ChunkedRequest(false)))
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.False(t, gate.Active())
}

func TestGate_NextStageError(t *testing.T) {
	sp, err := spooler.New(spooler.WithStoreFactory(memory.NewFactory()))
	require.NoError(t, err)
	boom := errors.New("downstream unavailable")
	gate := sp.NewGate("c", nil, ports.StageFunc(func(context.Context, domain.Unit) error { return boom }))

	err = gate.Handle(context.Background(), domain.Opaque{Value: 1})
	assert.ErrorIs(t, err, boom)
}

func TestGate_NextStageErrorReleasesBody(t *testing.T) {
	dir := t.TempDir()
	sp, err := spooler.New(spooler.WithTempDir(dir))
	require.NoError(t, err)
	boom := errors.New("downstream down")
	gate := sp.NewGate("conn-1", nil, ports.StageFunc(func(context.Context, domain.Unit) error { return boom }))
	ctx := context.Background()

	require.NoError(t, gate.Handle(ctx, domain.Classify(testutils.ChunkedRequest(false))))
	require.Len(t, testutils.SpoolFiles(t, dir), 1)

	err = gate.Handle(ctx, domain.BodyFragment{Data: []byte("abc"), Last: true})
	assert.ErrorIs(t, err, boom)
	assert.False(t, gate.Active())
	assert.Empty(t, testutils.SpoolFiles(t, dir), "undelivered body must be removed")

	require.NoError(t, gate.Close(ctx))
	assert.Empty(t, testutils.SpoolFiles(t, dir))
}

// countingRegistry counts saves of each session.
type countingRegistry struct {
	*memory.Registry
	mu    sync.Mutex
	saves map[string]int
}

func (r *countingRegistry) Save(ctx context.Context, rec domain.SessionRecord) error {
	r.mu.Lock()
	r.saves[rec.ID]++
	r.mu.Unlock()
	return r.Registry.Save(ctx, rec)
}

func TestGate_RegistryRefresh(t *testing.T) {
	for name, tc := range map[string]struct {
		refresh time.Duration
		want    int
	}{
		"disabled":       {refresh: 0, want: 1},
		"every fragment": {refresh: time.Nanosecond, want: 4},
		"not yet due":    {refresh: time.Hour, want: 1},
	} {
		t.Run(name, func(t *testing.T) {
			registry := &countingRegistry{Registry: memory.NewRegistry(), saves: make(map[string]int)}
			sp, err := spooler.New(
				spooler.WithStoreFactory(memory.NewFactory()),
				spooler.WithRegistry(registry),
				spooler.WithRegistryRefresh(tc.refresh),
			)
			require.NoError(t, err)
			gate := sp.NewGate("conn-1", nil, &collector{})
			defer gate.Close(context.Background())
			ctx := context.Background()

			require.NoError(t, gate.Handle(ctx, domain.Classify(testutils.ChunkedRequest(false))))
			id := gate.SessionID()
			for _, part := range []string{"a", "b", "c"} {
				time.Sleep(time.Millisecond)
				require.NoError(t, gate.Handle(ctx, domain.BodyFragment{Data: []byte(part)}))
			}

			registry.mu.Lock()
			defer registry.mu.Unlock()
			assert.Equal(t, tc.want, registry.saves[id])
		})
	}
}

// Fragments of one connection may be delivered by different goroutines, one after the other.
func TestGate_HandoffAcrossGoroutines(t *testing.T) {
	sp, err := spooler.New(spooler.WithStoreFactory(memory.NewFactory()))
	require.NoError(t, err)
	sink := &collector{}
	gate := sp.NewGate("conn-1", nil, sink)
	ctx := context.Background()

	units := []domain.Unit{domain.Classify(testutils.ChunkedRequest(false))}
	want := ""
	for i := 0; i < 50; i++ {
		piece := string(rune('a' + i%26))
		want += piece
		units = append(units, domain.BodyFragment{Data: []byte(piece)})
	}
	units = append(units, domain.BodyFragment{Last: true})

	for _, u := range units {
		done := make(chan error)
		go func(u domain.Unit) {
			done <- gate.Handle(ctx, u)
		}(u)
		require.NoError(t, <-done)
	}

	msgs := sink.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, want, testutils.ReadBody(t, msgs[0].Body))
}

func TestGate_SessionIDsAreUniqueAcrossConnections(t *testing.T) {
	dir := t.TempDir()
	sp, err := spooler.New(spooler.WithTempDir(dir))
	require.NoError(t, err)
	ctx := context.Background()

	const conns = 32
	gates := make([]*spooler.Gate, conns)
	var wg sync.WaitGroup
	for i := range gates {
		gates[i] = sp.NewGate(string(rune('A'+i)), nil, &collector{})
		wg.Add(1)
		go func(g *spooler.Gate) {
			defer wg.Done()
			assert.NoError(t, g.Handle(ctx, domain.Classify(testutils.ChunkedRequest(false))))
		}(gates[i])
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, g := range gates {
		id := g.SessionID()
		assert.False(t, seen[id], "duplicate session id %s", id)
		seen[id] = true
		require.NoError(t, g.Close(ctx))
	}
	assert.Len(t, seen, conns)
	assert.Empty(t, testutils.SpoolFiles(t, dir))
}

func TestNew_InvalidLimit(t *testing.T) {
	_, err := spooler.New(spooler.WithMaxContentLength(-5))
	assert.Error(t, err)

	sp, err := spooler.New(spooler.WithMaxContentLength(domain.Unlimited), spooler.WithStoreFactory(memory.NewFactory()))
	require.NoError(t, err)
	assert.Equal(t, domain.Unlimited, sp.MaxContentLength())
}
