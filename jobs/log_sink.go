package jobs

import (
	"context"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
)

// LogSink logs a summary of every job instead of persisting it.
type LogSink struct {
	Logger logging.Logger
}

// Write implements Sink.
func (s LogSink) Write(_ context.Context, job core.BookKeepingJob) error {
	records := 0
	for _, rs := range job.Records {
		records += len(rs)
	}

	logging.OrNoOp(s.Logger).Info("jobs.bookkeeping",
		"session_id", job.SessionID,
		"run_id", job.RunID,
		"actors", job.ActorKeys,
		"records", records,
	)

	return nil
}
