package iojob

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Runner is the capability a Pool drives per queued job; *Executor
// satisfies it.
type Runner interface {
	Run(ctx context.Context, jobID uuid.UUID) error
}

// Pool is the in-process Scheduler (spec §5: "a pool of workers pulling
// from a queue", "each worker is single-threaded within one task"). It
// favors a bounded channel over an external broker since the executor's
// only cross-process requirement is "after commit, not before" ordering,
// which a goroutine hand-off already satisfies.
type Pool struct {
	runner  Runner
	queue   chan uuid.UUID
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// NewPool starts workers goroutines draining a bounded queue of depth
// queueDepth. Call Close to drain in-flight work during shutdown.
func NewPool(runner Runner, workers, queueDepth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	p := &Pool{runner: runner, queue: make(chan uuid.UUID, queueDepth)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for jobID := range p.queue {
		if err := p.runner.Run(context.Background(), jobID); err != nil {
			slog.Error("job worker pass failed", "job_id", jobID, "err", err)
		}
	}
}

// Schedule enqueues jobID for the next free worker. Scheduling after
// Close is a no-op: the job's persisted pending status survives, so the
// next process start picks it up instead. The send happens under closeMu
// so it can never race Close's close(p.queue); a full queue holds the
// lock until a worker drains a slot, which also delays Close — workers
// always finish their current pass, so the send cannot block forever.
func (p *Pool) Schedule(jobID uuid.UUID) {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return
	}
	p.queue <- jobID
}

// ScheduleAfter enqueues jobID after delay, for the exponential-backoff
// retry schedule in spec §4.7 step 3. Close does not cancel pending
// timers; a timer firing after Close finds the pool closed and drops the
// enqueue, leaving the retry to the next process start.
func (p *Pool) ScheduleAfter(jobID uuid.UUID, delay time.Duration) {
	time.AfterFunc(delay, func() {
		p.Schedule(jobID)
	})
}

// Close stops accepting new scheduling and waits for in-flight jobs to
// finish their current pass.
func (p *Pool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.closeMu.Unlock()
	p.wg.Wait()
}
