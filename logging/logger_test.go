package logging

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel) (*StructuredLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cfg := DefaultLoggerConfig()
	cfg.Output = buf
	cfg.Level = level
	return NewLogger(cfg), buf
}

func TestStructuredLogger_ContextAttrs(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)

	l.WithComponent("coordinator").WithSession("s1", "r1").WithContext("app", "demo").Info("coordinator.relay", "type", "CONTENT")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "coordinator.relay", entry["msg"])
	assert.Equal(t, "coordinator", entry["component"])
	assert.Equal(t, "s1", entry["session_id"])
	assert.Equal(t, "r1", entry["run_id"])
	assert.Equal(t, "demo", entry["app"])
	assert.Equal(t, "CONTENT", entry["type"])
}

func TestStructuredLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn)

	l.Debug("debug")
	l.Info("info")
	assert.Zero(t, buf.Len())

	l.Warn("warn")
	assert.NotZero(t, buf.Len())
}

func TestStructuredLogger_WithIsolated(t *testing.T) {
	base, buf := newBufferLogger(LogLevelInfo)
	_ = base.WithContext("k", "v")

	base.Info("plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, ok := entry["k"]
	assert.False(t, ok)
}

func TestStructuredLogger_LogRun(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)

	l.WithSession("s1", "r1").LogRun(time.Second, []string{"actor leaf: boom"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run.failed", entry["msg"])
	assert.Equal(t, "r1", entry["run_id"])
	assert.Equal(t, float64(1000), entry["duration_ms"])
	assert.Equal(t, []any{"actor leaf: boom"}, entry["errors"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLevel("nonsense"))
}

func TestOrNoOp(t *testing.T) {
	assert.IsType(t, NoOpLogger{}, OrNoOp(nil))
	l := NewDefaultSlogLogger()
	assert.Same(t, l, OrNoOp(l))
}
