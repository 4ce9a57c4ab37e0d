package store

import (
	"context"
	"sync"
)

// Memory is the default in-process session store. Created empty at runtime
// construction and cleared only by explicit teardown.
type Memory struct {
	mu     sync.RWMutex
	values map[string]any
	order  []string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]any)}
}

func (m *Memory) Get(_ context.Context, key string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; !ok {
		m.order = append(m.order, key)
	}
	m.values[key] = value
	return nil
}

func (m *Memory) Append(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.values[key]
	if !ok {
		m.order = append(m.order, key)
		m.values[key] = []any{value}
		return nil
	}
	if list, isList := existing.([]any); isList {
		m.values[key] = append(list, value)
		return nil
	}
	m.values[key] = []any{existing, value}
	return nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, len(m.order))
	copy(keys, m.order)
	return keys, nil
}

func (m *Memory) All(_ context.Context) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make(map[string]any, len(m.values))
	for k, v := range m.values {
		snapshot[k] = v
	}
	return snapshot, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]any)
	m.order = nil
	return nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
