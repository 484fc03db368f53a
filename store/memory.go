package store

import (
	"context"
	"sync"
)

// Memory is a process-local store. It is used in tests and when no durable backend is available.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
	origin string
	hub    *hub
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values: map[string]string{},
		origin: newOrigin(),
		hub:    newHub(),
	}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	return value, ok, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	m.hub.publish(Change{Key: key, Value: value, Origin: m.origin, Local: true})
	return nil
}

// Remove implements Store.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	m.hub.publish(Change{Key: key, Removed: true, Origin: m.origin, Local: true})
	return nil
}

// Subscribe implements Store.
func (m *Memory) Subscribe() (<-chan Change, func()) { return m.hub.subscribe() }

// Origin implements Store.
func (m *Memory) Origin() string { return m.origin }

// Close implements Store.
func (m *Memory) Close() error {
	m.hub.close()
	return nil
}
