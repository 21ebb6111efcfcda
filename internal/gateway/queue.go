package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/larkflow/internal/types"
)

const (
	// LaneBuffer is the number of jobs a single session lane can hold.
	LaneBuffer = 100
	// DefaultIdleTimeout is how long an empty lane lives before it is reaped.
	DefaultIdleTimeout = time.Minute
)

// ErrStopped is returned by Enqueue when the queue is not running.
var ErrStopped = errors.New("queue not running")

// Queue manages per-session lanes with a global concurrency semaphore.
// Each session gets its own FIFO channel (lane) so that jobs within a
// session run sequentially, while the semaphore limits the total number
// of jobs executing across all sessions.
type Queue struct {
	lanes       map[types.SessionID]chan *Job
	semaphore   *semaphore.Weighted
	idleTimeout time.Duration
	pending     atomic.Int64 // buffered plus running
	stopped     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewQueue creates a Queue that allows up to maxConcurrent jobs to execute
// simultaneously across all session lanes.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:       make(map[types.SessionID]chan *Job),
		semaphore:   semaphore.NewWeighted(maxConcurrent),
		idleTimeout: DefaultIdleTimeout,
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.stopped = false
}

// Stop cancels the queue context, closes all lanes, and waits for lane
// goroutines to exit. Jobs still buffered are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.stopped = true
	for id, lane := range q.lanes {
		close(lane)
		delete(q.lanes, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Job to its session's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.stopped {
		return ErrStopped
	}

	lane, exists := q.lanes[job.SessionID]
	if !exists {
		lane = make(chan *Job, LaneBuffer)
		q.lanes[job.SessionID] = lane
		q.wg.Add(1)
		go q.processLane(job.SessionID, lane)
	}

	select {
	case lane <- job:
		q.pending.Add(1)
		return nil
	default:
		return fmt.Errorf("queue full for session %s", job.SessionID)
	}
}

// Lanes reports how many session lanes are currently alive.
func (q *Queue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

// processLane drains a single session lane, acquiring a semaphore slot
// before running each job synchronously. A lane that stays empty for the
// idle timeout removes itself.
func (q *Queue) processLane(sessionID types.SessionID, lane chan *Job) {
	defer q.wg.Done()

	idle := time.NewTimer(q.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case job, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				q.pending.Add(-1)
				return
			}
			q.run(job)
			q.semaphore.Release(1)
			q.pending.Add(-1)
			idle.Reset(q.idleTimeout)
		case <-idle.C:
			if q.reap(sessionID, lane) {
				return
			}
			idle.Reset(q.idleTimeout)
		case <-q.ctx.Done():
			return
		}
	}
}

// reap removes an empty lane. Enqueue holds the same lock while sending,
// so an empty lane observed here cannot receive a job afterwards.
func (q *Queue) reap(sessionID types.SessionID, lane chan *Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(lane) > 0 || q.lanes[sessionID] != lane {
		return false
	}
	delete(q.lanes, sessionID)
	slog.Debug("reaped idle lane", "session_id", string(sessionID))
	return true
}

func (q *Queue) run(job *Job) {
	if job.Run == nil {
		return
	}
	start := time.Now()
	if err := job.Run(q.ctx); err != nil {
		slog.Error("job failed", "job_id", string(job.ID), "session_id", string(job.SessionID), "error", err)
		return
	}
	slog.Debug("job complete",
		"job_id", string(job.ID),
		"session_id", string(job.SessionID),
		"waited", start.Sub(job.CreatedAt),
		"took", time.Since(start),
	)
}

// WaitIdle blocks until every enqueued job has run, including jobs still
// buffered in a lane, or the timeout expires. Returns true if idle, false if
// timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.pending.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}
