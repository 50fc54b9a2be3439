package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/jobs"
	"github.com/hupe1980/agentgraph/value"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestSink_Write(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	agentRec := core.NewBookKeepingRecord()
	agentRec.Output = value.Map{"text": value.String("done")}

	toolRec := core.NewBookKeepingRecord()
	toolRec.MessageID = "c1"

	job := core.BookKeepingJob{
		SessionID: "sess-1",
		RunID:     "run-1",
		ActorKeys: []string{"agent", "lookup"},
		Records: map[string][]core.BookKeepingRecord{
			"agent":  {agentRec},
			"lookup": {core.NewBookKeepingRecord(), toolRec},
		},
	}
	require.NoError(t, s.Write(ctx, job))

	rows, err := s.Rows(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "agent", rows[0].ActorKey)
	assert.Equal(t, "sess-1", rows[0].SessionID)
	assert.Contains(t, rows[0].RecordJSON, `"text":"done"`)
	assert.Empty(t, rows[1].MessageID)
	assert.Equal(t, "c1", rows[2].MessageID)

	other, err := s.Rows(ctx, "run-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSink_ThroughQueue(t *testing.T) {
	s := newTestSink(t)
	q := jobs.NewQueue(s)

	for _, id := range []string{"a", "b"} {
		require.NoError(t, q.Enqueue(context.Background(), core.BookKeepingJob{
			SessionID: "sess",
			RunID:     id,
			Records:   map[string][]core.BookKeepingRecord{"output": {core.NewBookKeepingRecord()}},
		}))
	}
	require.NoError(t, q.Drain(context.Background()))

	for _, id := range []string{"a", "b"} {
		rows, err := s.Rows(context.Background(), id)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	}
}
