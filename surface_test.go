package sc

import (
	"testing"

	"deedles.dev/sc/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate(t *testing.T) {
	e := setup(t, Level33)

	bg := e.root(t, "background")
	fg, err := e.Create(bg, "foreground")
	require.NoError(t, err)
	defer fg.Release()

	assert.Equal(t, "foreground", fg.Name())
	assert.NotEqual(t, bg.ID(), fg.ID())
	assert.False(t, fg.Is(bg))
	assert.False(t, fg.Borrowed())
	assert.Equal(t, 2, e.LiveSurfaces())

	state, ok := e.comp.Snapshot(wire.Node(fg.ID()))
	require.True(t, ok)
	assert.Equal(t, bg.ID(), uint32(state.Parent))

	_, err = e.Create(nil, "orphan")
	assert.ErrorIs(t, err, ErrInvalidSurface)
}

func TestCreateFromWindow(t *testing.T) {
	e := setup(t, Level33)

	_, err := e.CreateFromWindow(0, "none")
	assert.ErrorIs(t, err, ErrInvalidSurface)

	_, err = e.CreateFromWindow(e.win+100, "unknown")
	assert.ErrorIs(t, err, ErrCreateFailed)

	// Creating and releasing surfaces on a window must not consume the
	// window handle, which stays owned by the caller.
	for range 3 {
		s, err := e.CreateFromWindow(e.win, "root")
		require.NoError(t, err)
		require.NoError(t, s.Release())
	}
	s, err := e.CreateFromWindow(e.win, "root")
	require.NoError(t, err)
	assert.NoError(t, s.Release())
}

func TestClone(t *testing.T) {
	const n = 5

	e := setup(t, Level33)

	s, err := e.CreateFromWindow(e.win, "node")
	require.NoError(t, err)

	clones := make([]*Surface, 0, n)
	for range n {
		c, err := s.Clone()
		require.NoError(t, err)
		assert.True(t, c.Is(s))
		assert.Equal(t, s.ID(), c.ID())
		clones = append(clones, c)
	}
	assert.Equal(t, 1, e.LiveSurfaces())

	for _, c := range clones {
		require.NoError(t, c.Release())
		assert.ErrorIs(t, c.Release(), ErrReleased)
	}
	assert.Equal(t, 1, e.LiveSurfaces())

	tx, err := e.NewTransaction()
	require.NoError(t, err)
	defer tx.Close()
	assert.NoError(t, tx.SetZOrder(s, 1))

	require.NoError(t, s.Release())
	assert.Equal(t, 0, e.LiveSurfaces())

	assert.ErrorIs(t, s.Release(), ErrReleased)
	assert.ErrorIs(t, tx.SetZOrder(s, 2), ErrReleased)
	_, err = s.Clone()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = e.Create(s, "child")
	assert.ErrorIs(t, err, ErrReleased)
}

func TestReleaseDetached(t *testing.T) {
	e := setup(t, Level33)

	parent := e.root(t, "parent")
	child, err := e.Create(parent, "child")
	require.NoError(t, err)

	tx, err := e.NewTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.Reparent(child, nil))
	complete(t, tx, func(*Stats) bool { return true })

	nodes := e.comp.Nodes()
	require.NoError(t, child.Release())
	assert.Equal(t, nodes-1, e.comp.Nodes())
}
