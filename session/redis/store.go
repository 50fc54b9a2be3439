// Package redis persists session data in Redis. Each session is stored as a
// hash keyed by actor key; values are JSON documents.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/session"
)

// DefaultPrefix namespaces session hashes.
const DefaultPrefix = "agentgraph:session:"

var _ core.SessionDataStore = (*Store)(nil)

// Store implements core.SessionDataStore using Redis.
type Store struct {
	client backend.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the expiration of a session. It is refreshed on every Put.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis store connected to address.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

// Get returns the data stored for (sessionID, actorKey), or an empty map.
func (s *Store) Get(ctx context.Context, sessionID, actorKey string) (map[string]any, error) {
	raw, err := s.client.HGet(ctx, s.key(sessionID), actorKey).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to load session data: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}

	return data, nil
}

// Put replaces the data stored for (sessionID, actorKey).
func (s *Store) Put(ctx context.Context, sessionID, actorKey string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(sessionID), actorKey, raw)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(sessionID), s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session data: %w", err)
	}

	return nil
}

// Keys returns the sorted actor keys stored for a session.
func (s *Store) Keys(ctx context.Context, sessionID string) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, session.ErrNotFound
	}

	sort.Strings(keys)

	return keys, nil
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	n, err := s.client.Del(ctx, s.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n == 0 {
		return session.ErrNotFound
	}

	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
