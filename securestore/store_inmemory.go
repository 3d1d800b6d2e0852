package securestore

import (
	"errors"
	"sync"
)

// InMemoryStore is a thread-safe in-memory implementation of the Store interface
type InMemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates a new in-memory credential store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		values: make(map[string]string),
	}
}

// Get retrieves the value stored under key
func (s *InMemoryStore) Get(key string) (string, error) {
	if key == "" {
		return "", errors.New("key cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, exists := s.values[key]
	if !exists {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores or replaces the value under key
func (s *InMemoryStore) Set(key, value string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// Remove deletes key; removing an absent key is not an error
func (s *InMemoryStore) Remove(key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// Len reports the number of stored keys.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
