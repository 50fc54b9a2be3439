// Package jobs persists the bookkeeping of finished runs in the background.
//
// A Queue accepts jobs without blocking and hands them to a fixed pool of
// workers which write them to a Sink. Drain flushes what is buffered on
// shutdown.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
)

var (
	// ErrQueueFull is returned by Enqueue when the buffer is at capacity.
	ErrQueueFull = errors.New("jobs: queue full")
	// ErrQueueClosed is returned by Enqueue after Drain was called.
	ErrQueueClosed = errors.New("jobs: queue closed")
)

// Sink writes a bookkeeping job to durable storage.
type Sink interface {
	Write(ctx context.Context, job core.BookKeepingJob) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, job core.BookKeepingJob) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, job core.BookKeepingJob) error { return f(ctx, job) }

// Observer receives the outcome of every written job.
type Observer interface {
	ObserveJob(d time.Duration, err error)
}

// Options configure a Queue.
type Options struct {
	Workers      int
	Size         int
	WriteTimeout time.Duration
	Logger       logging.Logger
	Observer     Observer
}

var _ core.JobQueue = (*Queue)(nil)

// Queue is a bounded, non-blocking job queue drained by a worker pool.
type Queue struct {
	sink Sink
	opts Options

	mu     sync.RWMutex
	closed bool
	jobs   chan core.BookKeepingJob
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewQueue starts a queue writing to sink.
func NewQueue(sink Sink, optFns ...func(o *Options)) *Queue {
	opts := Options{
		Workers:      2,
		Size:         100,
		WriteTimeout: 30 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Size < 1 {
		opts.Size = 1
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		sink:   sink,
		opts:   opts,
		jobs:   make(chan core.BookKeepingJob, opts.Size),
		cancel: cancel,
	}

	for i := 0; i < opts.Workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}

	return q
}

// Enqueue buffers a job. It never blocks on persistence.
func (q *Queue) Enqueue(_ context.Context, job core.BookKeepingJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		q.opts.Logger.Warn("jobs.dropped", "session_id", job.SessionID, "run_id", job.RunID)
		return ErrQueueFull
	}
}

// Len returns the number of buffered jobs.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Drain stops accepting jobs and waits until the workers have written every
// buffered job or ctx is done. Pending writes are cancelled on ctx expiry.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		q.opts.Logger.Warn("jobs.drain_timeout", "pending", len(q.jobs))
		return fmt.Errorf("drain job queue: %w", ctx.Err())
	}
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()

	for job := range q.jobs {
		q.write(ctx, job)
	}
}

func (q *Queue) write(ctx context.Context, job core.BookKeepingJob) {
	wctx, cancel := context.WithTimeout(ctx, q.opts.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := q.sink.Write(wctx, job)

	if q.opts.Observer != nil {
		q.opts.Observer.ObserveJob(time.Since(start), err)
	}

	if err != nil {
		q.opts.Logger.Error("jobs.write_failed", "session_id", job.SessionID, "run_id", job.RunID, "error", err)
		return
	}

	q.opts.Logger.Debug("jobs.written", "session_id", job.SessionID, "run_id", job.RunID, "actors", len(job.Records))
}
