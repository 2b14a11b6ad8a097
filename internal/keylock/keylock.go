// Package keylock provides mutual exclusion scoped to a key, so work for
// one user is serialized while different users proceed in parallel.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map hands out one mutex per key. Entries are dropped once no goroutine
// holds or waits on them. The zero value is ready to use.
type Map[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

// Lock blocks until the mutex for key is held and returns its release func.
func (m *Map[K]) Lock(key K) (unlock func()) {
	m.mu.Lock()
	if m.entries == nil {
		m.entries = make(map[K]*entry)
	}
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (m *Map[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
