package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key       string
	value     string
	expiresAt time.Time
}

// Memory is a thread-safe in-process LRU store with per-entry TTL. It backs
// the router in local development and tests, where no external store is
// reachable.
type Memory struct {
	mu        sync.Mutex
	capacity  int
	items     map[string]*list.Element
	evictList *list.List
}

// NewMemory creates an in-process store holding at most capacity entries.
func NewMemory(capacity int) *Memory {
	return &Memory{
		capacity:  capacity,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
	}
}

// Get returns the value for key, or ErrMiss if absent or expired.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return "", ErrMiss
	}

	entry := elem.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		m.removeElement(elem)
		return "", ErrMiss
	}

	m.evictList.MoveToFront(elem)
	return entry.value, nil
}

// Put stores value under key with an absolute expiry of now + ttl.
func (m *Memory) Put(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.evictList.MoveToFront(elem)
		entry := elem.Value.(*memoryEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		return nil
	}

	if m.evictList.Len() >= m.capacity {
		m.removeOldest()
	}

	entry := &memoryEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	elem := m.evictList.PushFront(entry)
	m.items[key] = elem
	return nil
}

// Len returns the number of entries currently in the store.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictList.Len()
}

func (m *Memory) removeOldest() {
	elem := m.evictList.Back()
	if elem != nil {
		m.removeElement(elem)
	}
}

func (m *Memory) removeElement(elem *list.Element) {
	m.evictList.Remove(elem)
	entry := elem.Value.(*memoryEntry)
	delete(m.items, entry.key)
}
