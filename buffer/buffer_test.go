package buffer

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	buf, err := New(4, 3)
	require.NoError(t, err)
	defer buf.Close()

	assert.Equal(t, image.Rect(0, 0, 4, 3), buf.Bounds())
	assert.Equal(t, 16, buf.Stride())
	assert.Equal(t, 48, buf.Len())

	img, err := buf.Image()
	require.NoError(t, err)
	img.Set(1, 2, color.NRGBA{R: 0xFF, A: 0xFF})

	r, g, b, a := img.At(1, 2).RGBA()
	assert.Equal(t, [4]uint32{0xFFFF, 0, 0, 0xFFFF}, [4]uint32{r, g, b, a})
}

func TestInvalidSize(t *testing.T) {
	_, err := New(0, 10)
	assert.Error(t, err)
}

func TestClosed(t *testing.T) {
	buf, err := New(1, 1)
	require.NoError(t, err)
	require.NoError(t, buf.Close())
	require.NoError(t, buf.Close())

	_, err = buf.Image()
	assert.ErrorIs(t, err, ErrClosed)
}
