package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/phrazzld/dispatch/internal/task"
)

// memoryItem is one entry in the in-process cache.
type memoryItem struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Memory is a thread-safe in-process Cache with per-entry TTL and an
// LRU bound on the number of entries. It is the default cache when no
// redis address is configured, and the store of choice in tests.
type Memory struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List
	maxSize int

	// now is swappable in tests.
	now func() time.Time
}

// NewMemory creates a Memory cache bounded to maxSize entries.
func NewMemory(maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Memory{
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the cached value, treating expired entries as misses.
func (m *Memory) Get(_ context.Context, kind task.Kind, fingerprint string) ([]byte, bool, error) {
	key := Key(kind, fingerprint)

	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}

	item := elem.Value.(*memoryItem)
	if m.now().After(item.expiresAt) {
		m.removeLocked(elem)
		return nil, false, nil
	}

	m.lru.MoveToFront(elem)

	// Copy so callers cannot mutate the cached bytes.
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, true, nil
}

// Set stores value under the key, evicting the least recently used
// entry when the cache is full.
func (m *Memory) Set(_ context.Context, kind task.Kind, fingerprint string, value []byte, ttl time.Duration) error {
	key := Key(kind, fingerprint)
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt := m.now().Add(ttl)

	if elem, ok := m.items[key]; ok {
		m.lru.MoveToFront(elem)
		item := elem.Value.(*memoryItem)
		item.value = stored
		item.expiresAt = expiresAt
		return nil
	}

	elem := m.lru.PushFront(&memoryItem{key: key, value: stored, expiresAt: expiresAt})
	m.items[key] = elem

	if m.lru.Len() > m.maxSize {
		if oldest := m.lru.Back(); oldest != nil {
			m.removeLocked(oldest)
		}
	}
	return nil
}

// Invalidate removes the key if present.
func (m *Memory) Invalidate(_ context.Context, kind task.Kind, fingerprint string) error {
	key := Key(kind, fingerprint)

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.removeLocked(elem)
	}
	return nil
}

// Len reports the current number of entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

func (m *Memory) removeLocked(elem *list.Element) {
	item := elem.Value.(*memoryItem)
	m.lru.Remove(elem)
	delete(m.items, item.key)
}
