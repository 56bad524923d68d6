package cache

import "sync"

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[Key]*Entry)}
}

// Get implements Cache.
func (m *Memory) Get(k Key) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[k]
	return e, ok
}

// Put implements Cache.
func (m *Memory) Put(k Key, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[k] = e
	return nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
