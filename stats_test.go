package sc

import (
	"context"
	"testing"
	"time"

	"deedles.dev/sc/buffer"
	"deedles.dev/sc/fence"
	"deedles.dev/xsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsScenario(t *testing.T) {
	e := setup(t, Level33)

	bg := e.root(t, "background")
	fg, err := e.Create(bg, "foreground")
	require.NoError(t, err)
	defer fg.Release()

	tx, err := e.NewTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.SetZOrder(fg, 1))
	require.NoError(t, tx.SetVisibility(fg, VisibilityShow))
	require.NoError(t, tx.SetBufferAlpha(fg, 0.5))

	type result struct {
		latch     time.Time
		names     []string
		fg, bg    bool
		borrowed  bool
		releaseFg error
	}
	var calls int
	r := complete(t, tx, func(stats *Stats) (r result) {
		calls++
		r.latch, _ = stats.LatchTime()

		list, err := stats.Surfaces()
		if err != nil {
			return r
		}
		defer list.Release()

		for _, s := range list.All() {
			r.names = append(r.names, s.Name())
			r.borrowed = s.Borrowed()
			r.releaseFg = s.Release()
		}
		r.fg = list.Contains(fg)
		r.bg = list.Contains(bg)
		return r
	})

	assert.Equal(t, 1, calls)
	assert.False(t, r.latch.Before(time.Unix(0, 0)))
	assert.Equal(t, []string{"foreground"}, r.names)
	assert.True(t, r.fg)
	assert.False(t, r.bg)
	assert.True(t, r.borrowed)
	assert.ErrorIs(t, r.releaseFg, ErrBorrowed)

	// Releasing the list did not release the surface.
	assert.Equal(t, 2, e.LiveSurfaces())
	assert.Zero(t, e.comp.OutstandingSurfaceLists())
}

func TestStatsNoFences(t *testing.T) {
	e := setup(t, Level33)
	s := e.root(t, "node")

	type result struct {
		present, release *fence.Fence
		errs             [3]error
		acquired         bool
	}

	tx, err := e.NewTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.SetZOrder(s, 1))
	r := complete(t, tx, func(stats *Stats) (r result) {
		r.present, r.errs[0] = stats.PresentFence()
		r.release, r.errs[1] = stats.PreviousReleaseFence(s)
		_, r.acquired, r.errs[2] = stats.AcquireTime(s)
		return r
	})

	assert.Nil(t, r.present)
	assert.Nil(t, r.release)
	assert.Equal(t, [3]error{}, r.errs)
	assert.False(t, r.acquired)
}

func TestStatsCommitPhase(t *testing.T) {
	e := setup(t, Level33)
	s := e.root(t, "node")

	buf, err := buffer.New(2, 2)
	require.NoError(t, err)
	defer buf.Close()

	type result struct {
		phase                Phase
		present, release     error
		latch, surfaces      error
		presentFence         *fence.Fence
		releaseFenceReturned bool
	}

	tx, err := e.NewTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.SetBuffer(s, buf, nil))

	f, done := xsync.NewFuture[result]()
	require.NoError(t, tx.OnCommit(func(stats *Stats) {
		var r result
		r.phase = stats.Phase()
		r.presentFence, r.present = stats.PresentFence()
		var rf *fence.Fence
		rf, r.release = stats.PreviousReleaseFence(s)
		r.releaseFenceReturned = rf != nil
		_, r.latch = stats.LatchTime()
		list, err := stats.Surfaces()
		r.surfaces = err
		if list != nil {
			list.Release()
		}
		done(r)
	}))
	complete(t, tx, func(*Stats) bool { return true })

	r := await(t, f)
	assert.Equal(t, PhaseCommit, r.phase)
	assert.ErrorIs(t, r.present, ErrCommitPhase)
	assert.ErrorIs(t, r.release, ErrCommitPhase)
	assert.Nil(t, r.presentFence)
	assert.False(t, r.releaseFenceReturned)
	assert.NoError(t, r.latch)
	assert.NoError(t, r.surfaces)
}

func TestStatsFences(t *testing.T) {
	e := setup(t, Level33)
	s := e.root(t, "node")

	bufs := [2]*buffer.Buffer{}
	for i := range bufs {
		buf, err := buffer.New(2, 2)
		require.NoError(t, err)
		defer buf.Close()
		bufs[i] = buf
	}

	type result struct {
		present, release *fence.Fence
		str              string
	}
	fences := func(stats *Stats) (r result) {
		r.present, _ = stats.PresentFence()
		r.release, _ = stats.PreviousReleaseFence(s)
		r.str = stats.String()
		return r
	}

	tx, err := e.NewTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.SetBuffer(s, bufs[0], nil))
	first := complete(t, tx, fences)
	require.NotNil(t, first.present)
	assert.Nil(t, first.release)
	require.NoError(t, first.present.Close())
	assert.ErrorIs(t, first.present.Close(), fence.ErrClosed)

	tx, err = e.NewTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.SetBuffer(s, bufs[1], nil))
	second := complete(t, tx, fences)
	require.NotNil(t, second.present)
	require.NotNil(t, second.release)
	defer second.present.Close()
	defer second.release.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	assert.NoError(t, second.present.Wait(ctx))
	assert.NoError(t, second.release.Wait(ctx))

	assert.Contains(t, second.str, "stats(complete)")
	assert.Contains(t, second.str, s.String())
}

func TestStatsExpire(t *testing.T) {
	e := setup(t, Level33)
	s := e.root(t, "node")

	type result struct {
		stats *Stats
		list  *Surfaces
		first *Surface
	}

	tx, err := e.NewTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.SetZOrder(s, 1))
	r := complete(t, tx, func(stats *Stats) result {
		list, _ := stats.Surfaces()
		return result{stats: stats, list: list, first: list.All()[0]}
	})

	assert.Zero(t, e.comp.OutstandingSurfaceLists())

	_, err = r.stats.LatchTime()
	assert.ErrorIs(t, err, ErrStatsExpired)
	_, err = r.stats.PresentFence()
	assert.ErrorIs(t, err, ErrStatsExpired)
	_, err = r.stats.Surfaces()
	assert.ErrorIs(t, err, ErrStatsExpired)
	_, _, err = r.stats.AcquireTime(s)
	assert.ErrorIs(t, err, ErrStatsExpired)
	_, err = r.stats.PreviousReleaseFence(s)
	assert.ErrorIs(t, err, ErrStatsExpired)
	assert.Equal(t, "stats(expired)", r.stats.String())

	assert.True(t, r.first.Is(s))
	_, err = r.first.Clone()
	assert.ErrorIs(t, err, ErrReleased)

	tx, err = e.NewTransaction()
	require.NoError(t, err)
	defer tx.Close()
	assert.ErrorIs(t, tx.SetZOrder(r.first, 2), ErrReleased)

	r.list.Release()
	assert.Zero(t, e.comp.OutstandingSurfaceLists())
}
