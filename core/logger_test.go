package core

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/logging"
)

func TestLoggerAdapter_PrefixesAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := logging.DefaultLoggerConfig()
	cfg.Output = buf

	l := NewLoggerAdapter(logging.NewLogger(cfg), "actor", "leaf", "run_id", "r1")
	l.LogWarn("actor.failed", "error", "boom")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "actor.failed", entry["msg"])
	assert.Equal(t, "leaf", entry["actor"])
	assert.Equal(t, "r1", entry["run_id"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLoggerAdapter_NilLogger(t *testing.T) {
	l := NewLoggerAdapter(nil)
	assert.IsType(t, logging.NoOpLogger{}, l.Logger())
	assert.NotPanics(t, func() { l.LogError("x") })
}
