// Package objstore implements an ID-keyed object table.
package objstore

import "sync"

type Store[T any] struct {
	m       sync.Mutex
	objects map[uint32]T
	nextID  uint32
}

func New[T any](start uint32) *Store[T] {
	return &Store[T]{
		objects: make(map[uint32]T),
		nextID:  start,
	}
}

// Add stores obj under a newly allocated ID and returns it.
func (s *Store[T]) Add(obj T) uint32 {
	s.m.Lock()
	defer s.m.Unlock()

	id := s.nextID
	s.nextID++
	s.objects[id] = obj
	return id
}

func (s *Store[T]) Get(id uint32) (obj T, ok bool) {
	s.m.Lock()
	defer s.m.Unlock()

	obj, ok = s.objects[id]
	return obj, ok
}

func (s *Store[T]) Delete(id uint32) (obj T, ok bool) {
	s.m.Lock()
	defer s.m.Unlock()

	obj, ok = s.objects[id]
	delete(s.objects, id)
	return obj, ok
}

func (s *Store[T]) Len() int {
	s.m.Lock()
	defer s.m.Unlock()

	return len(s.objects)
}
