package wire

import (
	"testing"

	"deedles.dev/ximage/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRequestReader(t *testing.T) {
	req := NewRequest(OpSetCrop, 7).Write(geom.Rt[int32](0, 0, 10, 20))
	assert.Equal(t, OpSetCrop, req.Op())
	assert.Equal(t, Node(7), req.Node())

	r := req.Reader()
	assert.Equal(t, geom.Rt[int32](0, 0, 10, 20), r.Rect())
	require.NoError(t, r.Err())

	r.Int32()
	var argErr ArgError
	require.ErrorAs(t, r.Err(), &argErr)
	assert.Equal(t, 1, argErr.Index)
}

func TestRequestReaderMismatch(t *testing.T) {
	r := NewRequest(OpSetScale, 1).Write(float32(1), 2.0).Reader()
	assert.Equal(t, float32(1), r.Float32())
	assert.Zero(t, r.Float32())

	var argErr ArgError
	require.ErrorAs(t, r.Err(), &argErr)
	assert.Equal(t, "float32", argErr.Want)
	assert.Equal(t, 2.0, argErr.Got)
}

func TestRequestFence(t *testing.T) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	require.NoError(t, err)

	req := NewRequest(OpSetBuffer, 3).WriteFence(fd)
	assert.Contains(t, req.String(), "fd ")
	assert.Equal(t, fd, req.TakeFence())
	assert.Equal(t, NoFence, req.TakeFence())
	require.NoError(t, req.Close())
	require.NoError(t, unix.Close(fd))
}

func TestRequestString(t *testing.T) {
	assert.Equal(t, "node@2.setZOrder(1)", NewRequest(OpSetZOrder, 2).Write(int32(1)).String())
	assert.Equal(t, "txn.setFrameTimeline(42)", NewRequest(OpSetFrameTimeline, 0).Write(int64(42)).String())
	assert.Equal(t, "op(999)", Op(999).String())
}
