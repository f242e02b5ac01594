package sc

import (
	"testing"
	"time"

	"deedles.dev/sc/compositor"
	"deedles.dev/sc/wire"
	"deedles.dev/xsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const timeout = 5 * time.Second

type env struct {
	*Session
	comp *compositor.Compositor
	win  wire.Window
}

func setup(t *testing.T, level Level) env {
	t.Helper()

	comp := compositor.New(compositor.Config{Level: int(level)})
	t.Cleanup(func() { comp.Close() })

	s, err := Open(comp)
	require.NoError(t, err)

	win := comp.CreateWindow("test", 64, 64)
	require.NotZero(t, win)

	return env{Session: s, comp: comp, win: win}
}

func (e env) root(t *testing.T, name string) *Surface {
	t.Helper()

	s, err := e.CreateFromWindow(e.win, name)
	require.NoError(t, err)
	t.Cleanup(func() { s.Release() })
	return s
}

func await[T any](t *testing.T, f *xsync.Future[T]) T {
	t.Helper()

	select {
	case <-f.Done():
		return f.Get()
	case <-time.After(timeout):
		t.Fatal("timed out waiting for callback")
		panic("unreachable")
	}
}

// complete registers f as tx's on-complete callback, submits tx and
// waits for f's result.
func complete[T any](t *testing.T, tx *Transaction, f func(*Stats) T) T {
	t.Helper()

	future, done := xsync.NewFuture[T]()
	require.NoError(t, tx.OnComplete(func(stats *Stats) {
		done(f(stats))
	}))
	require.NoError(t, tx.Submit())
	require.NoError(t, tx.Close())
	return await(t, future)
}

func TestOpen(t *testing.T) {
	comp := compositor.New(compositor.Config{Level: 28})
	defer comp.Close()

	_, err := Open(comp)
	assert.ErrorIs(t, err, ErrUnsupported)

	e := setup(t, Level31)
	assert.Equal(t, Level31, e.Capabilities().Level())
	assert.Same(t, e.comp, e.Backend())
}

func TestCapabilities(t *testing.T) {
	tests := []struct {
		level Level
		has   []Feature
		not   []Feature
	}{
		{
			level: Level29,
			has:   []Feature{FeatureCore},
			not:   []Feature{FeatureFrameRate, FeatureOnCommit, FeatureScale, FeatureFrameTimeline},
		},
		{
			level: Level30,
			has:   []Feature{FeatureCore, FeatureFrameRate},
			not:   []Feature{FeatureClone, FeatureCrop},
		},
		{
			level: Level31,
			has:   []Feature{FeatureOnCommit, FeatureClone, FeatureCrop, FeaturePosition, FeatureBufferTransform, FeatureScale, FeatureFrameRateStrategy, FeatureBackPressure},
			not:   []Feature{FeatureFrameTimeline},
		},
		{
			level: Level33,
			has:   []Feature{FeatureFrameTimeline},
		},
	}

	for _, test := range tests {
		t.Run(test.level.String(), func(t *testing.T) {
			caps, err := NewCapabilities(test.level)
			require.NoError(t, err)
			for _, f := range test.has {
				assert.True(t, caps.Has(f), "%v", f)
				assert.NoError(t, caps.check(f))
			}
			for _, f := range test.not {
				assert.False(t, caps.Has(f), "%v", f)
				assert.ErrorIs(t, caps.check(f), ErrUnsupported)
			}
		})
	}

	caps, err := NewCapabilities(Level33)
	require.NoError(t, err)
	assert.Len(t, caps.Features(), int(featureCount))
	assert.False(t, caps.Has(featureCount))
}

func TestCapabilityGating(t *testing.T) {
	e := setup(t, Level29)
	s := e.root(t, "node")

	tx, err := e.NewTransaction()
	require.NoError(t, err)
	defer tx.Close()

	assert.ErrorIs(t, tx.SetCrop(s, Rect{}), ErrUnsupported)
	assert.ErrorIs(t, tx.SetPosition(s, 1, 1), ErrUnsupported)
	assert.ErrorIs(t, tx.SetScale(s, 1, 1), ErrUnsupported)
	assert.ErrorIs(t, tx.SetBufferTransform(s, TransformRotate90), ErrUnsupported)
	assert.ErrorIs(t, tx.SetFrameRate(s, 60, FrameRateCompatibilityDefault), ErrUnsupported)
	assert.ErrorIs(t, tx.SetEnableBackPressure(s, true), ErrUnsupported)
	assert.ErrorIs(t, tx.SetFrameTimeline(1), ErrUnsupported)
	assert.ErrorIs(t, tx.OnCommit(func(*Stats) {}), ErrUnsupported)

	_, err = s.Clone()
	assert.ErrorIs(t, err, ErrUnsupported)

	assert.NoError(t, tx.SetZOrder(s, 1))
	assert.NoError(t, tx.OnComplete(func(*Stats) {}))
}
