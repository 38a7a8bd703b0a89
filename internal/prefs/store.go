// Package prefs stores connector preferences: credentials, the preferred
// save target and similar small string values. Three backends implement
// Store: SQLite (the default), an atomic JSON file, and memory.
package prefs

import (
	"context"
	"maps"
	"sync"
)

// Store is a string key-value preference store. SetMany and Clear are
// atomic: either every key is written (or removed) or none is.
type Store interface {
	// Get returns the value of key and whether it is set.
	Get(ctx context.Context, key string) (string, bool, error)
	// GetMany returns the set values among keys. Unset keys are absent.
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
	SetMany(ctx context.Context, values map[string]string) error
	Clear(ctx context.Context, keys ...string) error
}

// MemoryStore is an in-memory Store for tests and ephemeral sessions.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]

	return v, ok, nil
}

// GetMany implements Store.
func (m *MemoryStore) GetMany(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return pick(m.values, keys), nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value

	return nil
}

// SetMany implements Store.
func (m *MemoryStore) SetMany(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	maps.Copy(m.values, values)

	return nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.values, k)
	}

	return nil
}

// pick copies the set entries of keys out of values.
func pick(values map[string]string, keys []string) map[string]string {
	out := make(map[string]string, len(keys))

	for _, k := range keys {
		if v, ok := values[k]; ok {
			out[k] = v
		}
	}

	return out
}
