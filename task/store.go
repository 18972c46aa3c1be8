package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned by stores for unknown task ids.
var ErrNotFound = fmt.Errorf("task not found")

// Store persists task snapshots for later rehydration.
type Store interface {
	// Save writes or overwrites a snapshot keyed by its task id.
	Save(ctx context.Context, def *Definition) error
	// Load returns the snapshot for a task id or ErrNotFound.
	Load(ctx context.Context, id string) (*Definition, error)
	// Delete removes a snapshot; deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// List returns all stored task ids in deterministic order.
	List(ctx context.Context) ([]string, error)
}

// InMemoryStore keeps snapshots in a map. Safe for concurrent use.
type InMemoryStore struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{defs: map[string]*Definition{}}
}

// Save writes or overwrites a snapshot keyed by its task id.
func (s *InMemoryStore) Save(_ context.Context, def *Definition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("definition must have an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.ID] = def
	return nil
}

// Load returns the snapshot for a task id or ErrNotFound.
func (s *InMemoryStore) Load(_ context.Context, id string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return def, nil
}

// Delete removes a snapshot.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.defs, id)
	return nil
}

// List returns all stored task ids sorted.
func (s *InMemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.defs))
	for id := range s.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
