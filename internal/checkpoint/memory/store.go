// Package memory keeps checkpoints in process memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/checkpoint"
)

// Store holds checkpoints in a map.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Save copies data under name.
func (s *Store) Save(_ context.Context, name string, data []byte) error {
	if name == "" {
		return fmt.Errorf("checkpoint name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = append([]byte(nil), data...)
	return nil
}

// Load returns a copy of the checkpoint stored under name.
func (s *Store) Load(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", checkpoint.ErrNotFound, name)
	}
	return append([]byte(nil), data...), nil
}
