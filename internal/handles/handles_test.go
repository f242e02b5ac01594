package handles

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTakeOnce(t *testing.T) {
	var r Registry[string]
	token := r.Register("commit")
	require.NotZero(t, token)
	assert.Equal(t, 1, r.Len())

	v, ok := r.Take(token)
	require.True(t, ok)
	assert.Equal(t, "commit", v)

	_, ok = r.Take(token)
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestConcurrentRegister(t *testing.T) {
	var r Registry[int]

	const n = 64
	tokens := make([]uintptr, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i] = r.Register(i)
		}()
	}
	wg.Wait()

	seen := make(map[uintptr]struct{}, n)
	for _, token := range tokens {
		seen[token] = struct{}{}
	}
	assert.Len(t, seen, n)

	for _, token := range tokens {
		r.Drop(token)
	}
	assert.Zero(t, r.Len())
}
