package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/session"
)

func setupStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	s := NewFromClient(client, opts...)
	t.Cleanup(func() { _ = s.Close() })

	return s, mr
}

func TestStore_RoundTrip(t *testing.T) {
	s, mr := setupStore(t, WithPrefix("test:"))
	ctx := context.Background()

	got, err := s.Get(ctx, "sess-1", "agent")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Put(ctx, "sess-1", "agent", map[string]any{"history": []any{"hi"}}))
	require.NoError(t, s.Put(ctx, "sess-1", "leaf", map[string]any{"n": 1}))

	assert.True(t, mr.Exists("test:sess-1"))

	got, err = s.Get(ctx, "sess-1", "agent")
	require.NoError(t, err)
	assert.Equal(t, []any{"hi"}, got["history"])

	keys, err := s.Keys(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent", "leaf"}, keys)

	require.NoError(t, s.Delete(ctx, "sess-1"))
	assert.ErrorIs(t, s.Delete(ctx, "sess-1"), session.ErrNotFound)

	_, err = s.Keys(ctx, "sess-1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestStore_TTL(t *testing.T) {
	s, mr := setupStore(t, WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "sess-1", "agent", map[string]any{"x": true}))
	assert.Equal(t, time.Minute, mr.TTL(DefaultPrefix+"sess-1"))

	mr.FastForward(2 * time.Minute)

	got, err := s.Get(ctx, "sess-1", "agent")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_CorruptData(t *testing.T) {
	s, mr := setupStore(t)

	mr.HSet(DefaultPrefix+"sess-1", "agent", "not-json")

	_, err := s.Get(context.Background(), "sess-1", "agent")
	assert.Error(t, err)
}
