package actor

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/value"
)

// BookKeepingOptions configure a BookKeepingActor.
type BookKeepingOptions struct {
	SessionID string
	RunID     string
	// AgentMode switches completion from "every participant bookkept" to
	// AGENT_DONE plus the input and output records.
	AgentMode bool
	Queue     core.JobQueue
	Logger    logging.Logger
}

// BookKeepingActor aggregates one record per participating actor, plus any
// tool sub-records, and signals run completion exactly once.
type BookKeepingActor struct {
	participants []string
	opts         BookKeepingOptions

	mu        sync.Mutex
	main      map[string]core.BookKeepingRecord
	subs      map[string][]core.BookKeepingRecord
	agentDone bool
	completed bool
}

// NewBookKeepingActor creates the bookkeeping sink for the given
// participants.
func NewBookKeepingActor(participants []string, optFns ...func(o *BookKeepingOptions)) *BookKeepingActor {
	opts := BookKeepingOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return &BookKeepingActor{
		participants: append([]string(nil), participants...),
		opts:         opts,
		main:         map[string]core.BookKeepingRecord{},
		subs:         map[string][]core.BookKeepingRecord{},
	}
}

// Name implements Actor.
func (*BookKeepingActor) Name() string { return core.BookKeepingActorName }

// TemplateKey implements Actor.
func (*BookKeepingActor) TemplateKey() string { return core.BookKeepingActorName }

// Dependencies returns the participants whose records complete the run.
func (b *BookKeepingActor) Dependencies() []string { return b.participants }

// Input implements Actor. Records arrive through Receive.
func (*BookKeepingActor) Input(*Context, value.Map) error { return nil }

// Receive collects BOOKKEEPING records and the AGENT_DONE signal.
func (b *BookKeepingActor) Receive(actx *Context, msg core.Message) error {
	b.mu.Lock()

	switch msg.Type {
	case core.MessageTypeBookKeeping:
		rec := core.RecordFromValue(msg.Data)
		if rec.MessageID != "" {
			b.subs[msg.Sender] = append(b.subs[msg.Sender], rec)
		} else {
			b.main[msg.Sender] = rec
		}
	case core.MessageTypeAgentDone:
		b.agentDone = true
	default:
		b.mu.Unlock()
		return nil
	}

	signal := !b.completed && b.complete()
	if signal {
		b.completed = true
	}
	count := len(b.main)

	b.mu.Unlock()

	if signal {
		actx.LogDebug("actor.bookkeeping.done", "records", count)
		actx.Stream.BookkeepDone()
	}

	return nil
}

// complete reports whether the aggregate is complete. Callers hold b.mu.
func (b *BookKeepingActor) complete() bool {
	if b.opts.AgentMode {
		if !b.agentDone {
			return false
		}
		_, in := b.main[core.InputActorName]
		_, out := b.main[core.OutputActorName]
		return in && out
	}

	for _, p := range b.participants {
		if _, ok := b.main[p]; !ok {
			return false
		}
	}
	return true
}

// Completed reports whether completion was signalled.
func (b *BookKeepingActor) Completed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.completed
}

// Job returns the current aggregate grouped per sender.
func (b *BookKeepingActor) Job() core.BookKeepingJob {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := make(map[string][]core.BookKeepingRecord, len(b.main)+len(b.subs))
	for sender, rec := range b.main {
		records[sender] = append(records[sender], rec)
	}
	for sender, recs := range b.subs {
		records[sender] = append(records[sender], recs...)
	}

	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return core.BookKeepingJob{
		SessionID: b.opts.SessionID,
		RunID:     b.opts.RunID,
		ActorKeys: keys,
		Records:   records,
	}
}

// OnStop hands the aggregate to the job queue. Enqueue failures are
// logged and never fail the stop.
func (b *BookKeepingActor) OnStop(ctx context.Context) error {
	if b.opts.Queue == nil {
		return nil
	}

	job := b.Job()
	if len(job.Records) == 0 {
		return nil
	}

	if err := b.opts.Queue.Enqueue(ctx, job); err != nil {
		b.opts.Logger.Warn("actor.bookkeeping.enqueue_failed", "run_id", b.opts.RunID, "error", err.Error())
	}

	return nil
}
