package kvstore

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryStore is an in-process store holding at most size keys in LRU order.
// A positive maxValueBytes makes Set reject larger values with ErrQuotaExceeded.
type MemoryStore struct {
	cache         *lru.Cache[string, string]
	maxValueBytes int
	closed        bool
	mu            sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(size, maxValueBytes int) (*MemoryStore, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &MemoryStore{
		cache:         cache,
		maxValueBytes: maxValueBytes,
	}, nil
}

// Get retrieves a value from the store
func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	value, ok := m.cache.Get(key)
	return value, ok, nil
}

// Set stores a value, enforcing the per-value quota
func (m *MemoryStore) Set(key, value string) error {
	if m.maxValueBytes > 0 && len(value) > m.maxValueBytes {
		return fmt.Errorf("%w: %d bytes over limit %d", ErrQuotaExceeded, len(value), m.maxValueBytes)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.cache.Add(key, value)
	return nil
}

// Remove deletes a key
func (m *MemoryStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.cache.Remove(key)
	return nil
}

// Len returns the number of stored keys
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

// Close drops all keys
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cache.Purge()
	return nil
}
