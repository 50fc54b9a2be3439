package core

import "context"

// SessionDataStore persists per-actor session data between runs of the same
// session. Get returns an empty map (not an error) for unknown keys.
type SessionDataStore interface {
	Get(ctx context.Context, sessionID, actorKey string) (map[string]any, error)
	Put(ctx context.Context, sessionID, actorKey string, data map[string]any) error
}

// JobQueue receives the aggregated bookkeeping of a finished run. Enqueue
// must not block on persistence.
type JobQueue interface {
	Enqueue(ctx context.Context, job BookKeepingJob) error
}
