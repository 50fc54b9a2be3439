// Package engine is the entry point for running app definitions.
//
// An Engine turns one request into one run: it converts the app definition
// into actor configs, builds a coordinator.Coordinator for the request,
// starts it and exposes the output actor's stream to the caller. Runs share
// the engine's session store, job queue, processor registry and model
// factories; everything else is per run.
//
// # Concurrency
//
// At most Config.MaxConcurrentRuns runs execute at once. Invoke waits for a
// free slot (bounded by its context) and the slot is released when the run's
// coordinator has stopped. Cancelling the context passed to Invoke, or
// calling Stop with the run id, stops the run; its stream still ends with a
// terminal errors chunk.
//
// # Streaming and synchronous use
//
//	runID, chunks, err := eng.Invoke(ctx, "session-1", def, input)
//	if err != nil {
//	    return err
//	}
//	for c := range chunks {
//	    fmt.Print(c.Delta)
//	}
//
//	res, err := eng.InvokeSync(ctx, "session-1", def, input)
//	if err != nil {
//	    return err
//	}
//	if !res.OK() {
//	    return fmt.Errorf("run failed: %v", res.Errors)
//	}
//
// # Hooks
//
// Hooks run at the before_run, on_error and after_run stages of every run.
// A failing before_run hook aborts the invocation.
//
// # Providers
//
// Without an explicit registry the engine registers the built-in processors
// plus chat/openai and chat/anthropic. Agents use the same providers unless
// Options.Models is set.
package engine
