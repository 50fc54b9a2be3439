// Package logging provides a minimal logging interface and adapters for AgentGraph.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the coordinator, actors and agent loop use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - StructuredLogger with component/session/run context and a run summary helper
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng, err := engine.New(func(o *engine.Options) {
//	    o.Logger = logger.WithComponent("engine")
//	})
//
// Message strings are dotted event names (coordinator.relay, actor.failed)
// followed by key/value pairs.
package logging
