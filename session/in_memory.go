package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentgraph/core"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

var _ core.SessionDataStore = (*InMemoryStore)(nil)

// InMemoryStore is a volatile SessionDataStore backed by a process local
// map. It is safe for concurrent access. Data is deep-copied through JSON on
// Put and Get so callers never share maps with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string][]byte
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]map[string][]byte)}
}

// Get returns a copy of the data stored for (sessionID, actorKey), or an
// empty map.
func (s *InMemoryStore) Get(_ context.Context, sessionID, actorKey string) (map[string]any, error) {
	s.mu.RLock()
	raw, ok := s.sessions[sessionID][actorKey]
	s.mu.RUnlock()

	if !ok {
		return map[string]any{}, nil
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode session data %s/%s: %w", sessionID, actorKey, err)
	}
	if data == nil {
		data = map[string]any{}
	}

	return data, nil
}

// Put replaces the data stored for (sessionID, actorKey).
func (s *InMemoryStore) Put(_ context.Context, sessionID, actorKey string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session data %s/%s: %w", sessionID, actorKey, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = make(map[string][]byte)
		s.sessions[sessionID] = sess
	}
	sess[actorKey] = raw

	return nil
}

// Keys returns the sorted actor keys stored for a session.
func (s *InMemoryStore) Keys(_ context.Context, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}

	keys := make([]string, 0, len(sess))
	for k := range sess {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys, nil
}

// Delete removes every entry of a session.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, sessionID)

	return nil
}
