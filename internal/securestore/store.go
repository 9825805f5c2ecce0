// Package securestore provides the secure key-value storage used for app
// sessions and encryption keys.
package securestore

import (
	"errors"
	"maps"
	"sync"
)

// ErrNotFound is returned by Read when the key does not exist.
var ErrNotFound = errors.New("secure store: key not found")

// Store is a secure key-value store.
type Store interface {
	Write(key, value string) error
	Read(key string) (string, error)
	Delete(key string) error
	ReadAll() (map[string]string, error)
}

// Memory is an in-process Store. Contents are lost on exit.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Write(key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Read(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ReadAll() (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.data), nil
}
