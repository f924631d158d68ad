package audit

import (
	"context"
	"sync"
)

// MemObjectStore is an in-memory ObjectStore backing the CLI's local
// diagnostic mode and this package's tests — the archive destination
// has no concrete SDK in scope (spec.md's non-goal on per-cloud SDK
// bindings), so production deployments supply their own ObjectStore
// and exercise the same Archive code path this fake does.
type MemObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemObjectStore builds an empty MemObjectStore.
func NewMemObjectStore() *MemObjectStore {
	return &MemObjectStore{objects: make(map[string][]byte)}
}

// PutObject stores data under key, overwriting any prior value.
func (m *MemObjectStore) PutObject(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = cp
	return nil
}

// Get returns the bytes stored at key, or nil, false if absent.
func (m *MemObjectStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.objects[key]
	return v, ok
}

// Keys returns every key currently stored, unordered.
func (m *MemObjectStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}
