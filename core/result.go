package core

import "github.com/hupe1980/agentgraph/value"

// Chunk is one element of a run's output stream. A stream ends with exactly
// one chunk that is either Final or carries Errors.
type Chunk struct {
	Delta  string      `json:"delta,omitempty"`
	Output value.Value `json:"output,omitempty"`
	Final  bool        `json:"final,omitempty"`
	Errors []string    `json:"errors,omitempty"`
}

// IsTerminal reports whether the chunk ends the stream.
func (c Chunk) IsTerminal() bool { return c.Final || len(c.Errors) > 0 }

// Result is the outcome of a synchronous run: a finalized output value or a
// list of error strings.
type Result struct {
	RunID  string      `json:"run_id"`
	Output value.Value `json:"output,omitempty"`
	Errors []string    `json:"errors,omitempty"`
}

// OK reports whether the run produced output without errors.
func (r Result) OK() bool { return len(r.Errors) == 0 }
