// Package handles stores Go values behind integer tokens so that they
// can be handed across the native boundary as opaque context values.
package handles

import "sync"

// Registry maps tokens to values. The zero value is ready to use.
// Token 0 is never issued.
type Registry[T any] struct {
	m      sync.Mutex
	values map[uintptr]T
	nextID uintptr
}

// Register stores v and returns its token. The value stays reachable
// until Take or Drop is called with the token.
func (r *Registry[T]) Register(v T) uintptr {
	r.m.Lock()
	defer r.m.Unlock()

	if r.values == nil {
		r.values = make(map[uintptr]T)
	}
	r.nextID++
	r.values[r.nextID] = v
	return r.nextID
}

// Take removes the value stored under token and returns it. Only the
// first Take of a token succeeds.
func (r *Registry[T]) Take(token uintptr) (v T, ok bool) {
	r.m.Lock()
	defer r.m.Unlock()

	v, ok = r.values[token]
	delete(r.values, token)
	return v, ok
}

// Drop removes token without returning its value.
func (r *Registry[T]) Drop(token uintptr) {
	r.m.Lock()
	defer r.m.Unlock()

	delete(r.values, token)
}

// Len returns the number of live tokens.
func (r *Registry[T]) Len() int {
	r.m.Lock()
	defer r.m.Unlock()

	return len(r.values)
}
