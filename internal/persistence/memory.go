package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryAdapter is the in-process store used by tests and by callers that
// opt out of durability.
type MemoryAdapter struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{values: make(map[string][]byte)}
}

func (m *MemoryAdapter) WaitForInit(ctx context.Context, initial bool) error { return nil }

func (m *MemoryAdapter) ReadValue(ctx context.Context, entityID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryAdapter) HasValue(ctx context.Context, entityID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.values[entityID]
	return ok, nil
}

func (m *MemoryAdapter) WriteValue(ctx context.Context, entityID string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.values[entityID] = v
	return nil
}

func (m *MemoryAdapter) RemoveValue(ctx context.Context, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, entityID)
	return nil
}

func (m *MemoryAdapter) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryAdapter) Values(ctx context.Context) ([][]byte, error) {
	keys, err := m.Keys(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	values := make([][]byte, 0, len(keys))
	for _, k := range keys {
		values = append(values, m.values[k])
	}
	return values, nil
}
