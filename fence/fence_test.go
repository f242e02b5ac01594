package fence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRawNone(t *testing.T) {
	f := FromRaw(None)
	assert.Nil(t, f)
	assert.False(t, f.Valid())
	assert.NoError(t, f.Close())

	fd, err := f.Take()
	require.NoError(t, err)
	assert.Equal(t, None, fd)

	ok, err := f.Signaled()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fence(none)", f.String())
}

func TestCloseTwice(t *testing.T) {
	f, s, err := New()
	require.NoError(t, err)
	defer s.Close()

	require.True(t, f.Valid())
	require.NoError(t, f.Close())
	assert.False(t, f.Valid())
	assert.ErrorIs(t, f.Close(), ErrClosed)
}

func TestTakeTransfersOwnership(t *testing.T) {
	f, s, err := New()
	require.NoError(t, err)
	defer s.Close()

	fd, err := f.Take()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fd, 0)

	assert.ErrorIs(t, f.Close(), ErrClosed)
	_, err = f.Take()
	assert.ErrorIs(t, err, ErrClosed)

	// The new owner is responsible for the descriptor.
	require.NoError(t, FromRaw(fd).Close())
}

func TestSignal(t *testing.T) {
	f, s, err := New()
	require.NoError(t, err)
	defer f.Close()
	defer s.Close()

	dup, err := f.Dup()
	require.NoError(t, err)
	defer dup.Close()

	ok, err := f.Signaled()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Signal())
	require.NoError(t, s.Signal())

	ok, err = dup.Signaled()
	require.NoError(t, err)
	assert.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, f.Wait(ctx))
}

func TestWaitCancel(t *testing.T) {
	f, s, err := New()
	require.NoError(t, err)
	defer f.Close()
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.Wait(ctx), context.DeadlineExceeded)
}

func TestWaitClosed(t *testing.T) {
	f, s, err := New()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Wait(context.Background()), ErrClosed)
}
