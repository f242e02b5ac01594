package sc

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deedles.dev/sc/buffer"
	"deedles.dev/sc/fence"
	"deedles.dev/sc/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackOrder(t *testing.T) {
	e := setup(t, Level33)
	s := e.root(t, "node")
	pending := PendingCallbacks()

	var (
		m      sync.Mutex
		phases []Phase
	)
	record := func(stats *Stats) {
		m.Lock()
		defer m.Unlock()
		phases = append(phases, stats.Phase())
	}

	tx, err := e.NewTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.SetZOrder(s, 1))
	require.NoError(t, tx.SetVisibility(s, VisibilityShow))
	require.NoError(t, tx.OnCommit(record))
	assert.Equal(t, pending+1, PendingCallbacks())

	complete(t, tx, func(stats *Stats) bool {
		record(stats)
		return true
	})

	m.Lock()
	defer m.Unlock()
	assert.Equal(t, []Phase{PhaseCommit, PhaseComplete}, phases)
	assert.Equal(t, pending, PendingCallbacks())
}

func TestCallbackOnce(t *testing.T) {
	e := setup(t, Level33)

	var calls atomic.Int32
	tx, err := e.NewTransaction()
	require.NoError(t, err)

	complete(t, tx, func(stats *Stats) bool {
		calls.Add(1)
		return true
	})

	// A second invocation with a spent token must not call anything.
	token := callbacks.Register(&callback{
		session: e.Session,
		phase:   wire.PhaseComplete,
		track:   new(track),
		f:       func(*Stats) { calls.Add(1) },
	})
	trampoline(token, 0)
	trampoline(token, 0)

	assert.Equal(t, int32(2), calls.Load())
	assert.Zero(t, e.comp.OutstandingSurfaceLists())
}

func TestCallbackLeak(t *testing.T) {
	const n = 200

	e := setup(t, Level33)
	s := e.root(t, "node")
	pending := PendingCallbacks()

	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		tx, err := e.NewTransaction()
		require.NoError(t, err)
		require.NoError(t, tx.SetZOrder(s, int32(i)))
		require.NoError(t, tx.OnCommit(func(*Stats) {}))
		require.NoError(t, tx.OnComplete(func(*Stats) { wg.Done() }))
		require.NoError(t, tx.Submit())
		require.NoError(t, tx.Close())
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for callbacks")
	}

	assert.Eventually(t, func() bool {
		return PendingCallbacks() == pending
	}, timeout, time.Millisecond)
}

func TestCallbackDiscarded(t *testing.T) {
	e := setup(t, Level33)
	pending := PendingCallbacks()

	tx, err := e.NewTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.OnCommit(func(*Stats) { t.Error("on-commit called") }))
	require.NoError(t, tx.OnComplete(func(*Stats) { t.Error("on-complete called") }))
	assert.Equal(t, pending+2, PendingCallbacks())

	require.NoError(t, tx.Close())
	assert.Equal(t, pending, PendingCallbacks())
}

func TestCallbackPanic(t *testing.T) {
	aborted := make(chan any, 1)
	prev := abort
	abort = func(v any) { aborted <- v }
	defer func() { abort = prev }()

	e := setup(t, Level33)

	tx, err := e.NewTransaction()
	require.NoError(t, err)
	defer tx.Close()
	require.NoError(t, tx.OnComplete(func(*Stats) { panic("boom") }))
	require.NoError(t, tx.Submit())

	select {
	case v := <-aborted:
		assert.Equal(t, "boom", v)
	case <-time.After(timeout):
		t.Fatal("callback panic did not abort")
	}

	// The compositor must survive the panic.
	tx2, err := e.NewTransaction()
	require.NoError(t, err)
	assert.True(t, complete(t, tx2, func(*Stats) bool { return true }))
}

func TestCallbackDropped(t *testing.T) {
	e := setup(t, Level33)
	s := e.root(t, "node")
	pending := PendingCallbacks()

	buf, err := buffer.New(1, 1)
	require.NoError(t, err)
	defer buf.Close()

	acquire, sig, err := fence.New()
	require.NoError(t, err)
	defer sig.Close()

	// Neither transaction can be applied before the compositor closes:
	// the first waits on a fence that never signals and the second
	// waits behind it.
	for range 2 {
		tx, err := e.NewTransaction()
		require.NoError(t, err)
		require.NoError(t, tx.SetBuffer(s, buf, acquire))
		acquire = nil
		require.NoError(t, tx.OnCommit(func(*Stats) { t.Error("on-commit called") }))
		require.NoError(t, tx.OnComplete(func(*Stats) { t.Error("on-complete called") }))
		require.NoError(t, tx.Submit())
		require.NoError(t, tx.Close())
	}
	assert.Equal(t, pending+4, PendingCallbacks())

	require.NoError(t, e.comp.Close())
	assert.Equal(t, pending, PendingCallbacks())
}
