package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RunStarted()
	c.RunStarted()
	c.RunFinished(time.Second, nil)
	c.ObserveRelay(core.MessageTypeContent)
	c.ObserveRelay(core.MessageTypeContent)
	c.ObserveRelay(core.MessageTypeStreamChunk)
	c.ObserveIdleTimeout()
	c.ObserveToolCall("lookup", 10*time.Millisecond, nil)
	c.ObserveToolCall("lookup", 10*time.Millisecond, errors.New("boom"))
	c.ObserveModelCall("openai", "gpt", time.Second, 42, nil)
	c.ObserveJob(time.Millisecond, nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.runsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.runs.WithLabelValues("ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.messages.WithLabelValues(string(core.MessageTypeContent))))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.idleTimeouts))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.toolCalls.WithLabelValues("lookup", "error")))
	assert.Equal(t, float64(42), testutil.ToFloat64(c.modelTokens.WithLabelValues("openai", "gpt")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.jobs.WithLabelValues("ok")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCollector_Nil(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.RunStarted()
		c.RunFinished(time.Second, errors.New("x"))
		c.ObserveRelay(core.MessageTypeContent)
		c.ObserveIdleTimeout()
		c.ObserveToolCall("t", 0, nil)
		c.ObserveModelCall("p", "m", 0, 1, nil)
		c.ObserveJob(0, nil)
	})
}
