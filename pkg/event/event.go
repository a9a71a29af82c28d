// Package event provides a keyed set of synchronous listeners.
//
// Listeners are invoked on a snapshot taken under the lock, and the lock is
// released before any listener runs. A listener may therefore add or remove
// listeners (including itself) without deadlocking.
package event

import "sync"

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Subscribers maps a caller-chosen key to a listener value.
// Iteration order is insertion order.
type Subscribers[K comparable, V any] struct {
	lock    sync.Mutex
	entries []entry[K, V]
}

// Add a listener. Returns false if the key is already present.
func (s *Subscribers[K, V]) Add(key K, value V) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, e := range s.entries {
		if e.key == key {
			return false
		}
	}
	s.entries = append(s.entries, entry[K, V]{key, value})
	return true
}

// Remove a listener. Returns false if the key is not present.
func (s *Subscribers[K, V]) Remove(key K) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	for i, e := range s.entries {
		if e.key == key {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Subscribers[K, V]) Has(key K) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, e := range s.entries {
		if e.key == key {
			return true
		}
	}
	return false
}

func (s *Subscribers[K, V]) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.entries)
}

func (s *Subscribers[K, V]) Keys() []K {
	s.lock.Lock()
	defer s.lock.Unlock()
	keys := make([]K, len(s.entries))
	for i, e := range s.entries {
		keys[i] = e.key
	}
	return keys
}

// Send calls fn for every listener that was present when Send began.
// A listener that is removed while Send is running is skipped, unless it has already been called.
func (s *Subscribers[K, V]) Send(fn func(key K, value V)) {
	s.lock.Lock()
	list := make([]entry[K, V], len(s.entries))
	copy(list, s.entries)
	s.lock.Unlock()

	for _, e := range list {
		if !s.Has(e.key) {
			continue
		}
		fn(e.key, e.value)
	}
}
