package ev

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatch(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")

	var ran []int
	var b Batch
	b.Add(func() error { ran = append(ran, 1); return errA })
	b.Add(func() error { ran = append(ran, 2); return nil })
	b.Add(func() error { ran = append(ran, 3); return errB })
	assert.Equal(t, 3, b.Len())

	err := b.Flush()
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, []int{1, 2, 3}, ran)
	assert.Zero(t, b.Len())

	assert.NoError(t, b.Flush())
	assert.Equal(t, []int{1, 2, 3}, ran)
}
