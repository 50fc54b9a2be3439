// Package metrics exposes Prometheus collectors for runs, relayed messages,
// tool calls, model calls and bookkeeping jobs.
//
// A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/agentgraph/core"
)

const namespace = "agentgraph"

// Collector holds every metric of the module.
type Collector struct {
	runsActive    prometheus.Gauge
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	messages      *prometheus.CounterVec
	idleTimeouts  prometheus.Counter
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	modelCalls    *prometheus.CounterVec
	modelDuration *prometheus.HistogramVec
	modelTokens   *prometheus.CounterVec
	jobs          *prometheus.CounterVec
	jobDuration   prometheus.Histogram
}

// New creates a collector and registers it with reg. A nil reg registers
// nothing.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of runs currently executing",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of finished runs",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of runs",
			Buckets:   prometheus.DefBuckets,
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Messages relayed by the coordinator",
		}, []string{"type"}),
		idleTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_timeouts_total",
			Help:      "Runs that went idle before producing output",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations served by tool actors",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Duration of tool invocations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Language model calls made by the agent",
		}, []string{"provider", "model", "status"}),
		modelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_duration_seconds",
			Help:      "Duration of language model calls",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		modelTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Tokens consumed by language model calls",
		}, []string{"provider", "model"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookkeeping_jobs_total",
			Help:      "Bookkeeping jobs written by the job queue",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bookkeeping_job_duration_seconds",
			Help:      "Duration of bookkeeping job writes",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(c.collectors()...)
	}

	return c
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.runsActive, c.runs, c.runDuration, c.messages, c.idleTimeouts,
		c.toolCalls, c.toolDuration, c.modelCalls, c.modelDuration, c.modelTokens,
		c.jobs, c.jobDuration,
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RunStarted increments the active runs gauge.
func (c *Collector) RunStarted() {
	if c == nil {
		return
	}
	c.runsActive.Inc()
}

// RunFinished records a finished run.
func (c *Collector) RunFinished(d time.Duration, err error) {
	if c == nil {
		return
	}
	c.runsActive.Dec()
	c.runs.WithLabelValues(status(err)).Inc()
	c.runDuration.Observe(d.Seconds())
}

// ObserveRelay counts a message relayed by the coordinator.
func (c *Collector) ObserveRelay(typ core.MessageType) {
	if c == nil {
		return
	}
	c.messages.WithLabelValues(string(typ)).Inc()
}

// ObserveIdleTimeout counts an idle timeout.
func (c *Collector) ObserveIdleTimeout() {
	if c == nil {
		return
	}
	c.idleTimeouts.Inc()
}

// ObserveToolCall records a served tool invocation.
func (c *Collector) ObserveToolCall(tool string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.toolCalls.WithLabelValues(tool, status(err)).Inc()
	c.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveModelCall records a language model call.
func (c *Collector) ObserveModelCall(provider, model string, d time.Duration, tokens int, err error) {
	if c == nil {
		return
	}
	c.modelCalls.WithLabelValues(provider, model, status(err)).Inc()
	c.modelDuration.WithLabelValues(provider, model).Observe(d.Seconds())
	if tokens > 0 {
		c.modelTokens.WithLabelValues(provider, model).Add(float64(tokens))
	}
}

// ObserveJob records a written bookkeeping job.
func (c *Collector) ObserveJob(d time.Duration, err error) {
	if c == nil {
		return
	}
	c.jobs.WithLabelValues(status(err)).Inc()
	c.jobDuration.Observe(d.Seconds())
}
