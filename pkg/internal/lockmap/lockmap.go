// Package lockmap provides a mutex per key. Entries are reference counted and
// dropped once no goroutine holds or waits for them.
package lockmap

import "sync"

type Map[K comparable] struct {
    mu    sync.Mutex
    locks map[K]*entry
}

type entry struct {
    mu   sync.Mutex
    refs int
}

func New[K comparable]() *Map[K] {
    return &Map[K]{locks: make(map[K]*entry)}
}

func (m *Map[K]) Lock(key K) {
    m.mu.Lock()
    e, ok := m.locks[key]
    if !ok {
        e = &entry{}
        m.locks[key] = e
    }
    e.refs++
    m.mu.Unlock()
    e.mu.Lock()
}

func (m *Map[K]) Unlock(key K) {
    m.mu.Lock()
    e, ok := m.locks[key]
    if !ok {
        m.mu.Unlock()
        panic("lockmap: unlock of unlocked key")
    }
    e.refs--
    if e.refs == 0 { delete(m.locks, key) }
    m.mu.Unlock()
    e.mu.Unlock()
}

// Len returns the number of keys currently held or waited on.
func (m *Map[K]) Len() int {
    m.mu.Lock(); defer m.mu.Unlock()
    return len(m.locks)
}
