package testutil

import (
	"context"
	"sync"
)

// MapStore is an in-memory core.SessionDataStore that records every Put.
type MapStore struct {
	mu   sync.Mutex
	data map[string]map[string]any
	puts int
}

// StoreBuilder seeds a MapStore with fluent chaining.
// Example:
//
//	store := NewStoreBuilder().Put("sess-1", "agent", map[string]any{"history": nil}).Build()
type StoreBuilder struct {
	store *MapStore
}

// NewStoreBuilder creates a builder for an empty store.
func NewStoreBuilder() *StoreBuilder {
	return &StoreBuilder{store: &MapStore{data: map[string]map[string]any{}}}
}

// Put seeds data for (sessionID, actorKey) (chainable).
func (b *StoreBuilder) Put(sessionID, actorKey string, data map[string]any) *StoreBuilder {
	b.store.data[sessionID+"/"+actorKey] = data
	return b
}

// Build returns the store.
func (b *StoreBuilder) Build() *MapStore { return b.store }

// Get implements core.SessionDataStore.
func (s *MapStore) Get(_ context.Context, sessionID, actorKey string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]any{}
	for k, v := range s.data[sessionID+"/"+actorKey] {
		out[k] = v
	}
	return out, nil
}

// Put implements core.SessionDataStore.
func (s *MapStore) Put(_ context.Context, sessionID, actorKey string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[sessionID+"/"+actorKey] = data
	s.puts++
	return nil
}

// Puts returns the number of Put calls.
func (s *MapStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.puts
}
