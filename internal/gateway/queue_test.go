package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/larkflow/internal/types"
)

func TestQueueConcurrency(t *testing.T) {
	queue := NewQueue(2)
	queue.Start(context.Background())
	defer queue.Stop()

	var running int32
	var maxSeen int32
	var wg sync.WaitGroup

	work := func(ctx context.Context) error {
		defer wg.Done()
		current := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if current <= old || atomic.CompareAndSwapInt32(&maxSeen, old, current) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		job := NewJob(types.SessionID(fmt.Sprintf("session-%d", i)), work)
		if err := queue.Enqueue(job); err != nil {
			t.Fatal(err)
		}
	}

	wg.Wait()

	if m := atomic.LoadInt32(&maxSeen); m > 2 {
		t.Errorf("expected max 2 concurrent, saw %d", m)
	}
	if m := atomic.LoadInt32(&maxSeen); m < 1 {
		t.Errorf("expected jobs to run, saw %d", m)
	}
}

func TestQueueJobCalled(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	done := make(chan struct{})
	job := NewJob("test-session", func(ctx context.Context) error {
		close(done)
		return nil
	})
	if err := queue.Enqueue(job); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job")
	}
}

func TestQueueSameSessionOrdering(t *testing.T) {
	queue := NewQueue(4)
	queue.Start(context.Background())
	defer queue.Stop()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < 3; i++ {
		seq := i
		job := NewJob("same-session", func(ctx context.Context) error {
			// Later jobs finish faster; order must still hold.
			time.Sleep(time.Duration(3-seq) * 10 * time.Millisecond)
			mu.Lock()
			order = append(order, seq)
			n := len(order)
			mu.Unlock()
			if n == 3 {
				close(done)
			}
			return nil
		})
		if err := queue.Enqueue(job); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for jobs to process")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Errorf("expected order[%d] = %d, got %d", i, i, v)
		}
	}
}

func TestQueueFailedJobDoesNotBlockLane(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	done := make(chan struct{})
	failing := NewJob("s", func(ctx context.Context) error { return errors.New("boom") })
	next := NewJob("s", func(ctx context.Context) error {
		close(done)
		return nil
	})
	if err := queue.Enqueue(failing); err != nil {
		t.Fatal(err)
	}
	if err := queue.Enqueue(next); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lane stalled after a failed job")
	}
}

func TestQueueNilRun(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	// A job without a function should not panic.
	if err := queue.Enqueue(&Job{ID: types.NewJobID(), SessionID: "no-run"}); err != nil {
		t.Fatal(err)
	}
	if !queue.WaitIdle(time.Second) {
		t.Error("expected queue to be idle")
	}
}

func TestQueueFull(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	blocker := NewJob("busy", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	if err := queue.Enqueue(blocker); err != nil {
		t.Fatal(err)
	}
	<-started

	for i := 0; i < LaneBuffer; i++ {
		if err := queue.Enqueue(NewJob("busy", nil)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := queue.Enqueue(NewJob("busy", nil)); err == nil {
		t.Error("expected error on full lane")
	}
	close(release)
}

func TestQueueEnqueueBeforeStartAndAfterStop(t *testing.T) {
	queue := NewQueue(1)
	if err := queue.Enqueue(NewJob("s", nil)); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped before Start, got %v", err)
	}

	queue.Start(context.Background())
	queue.Stop()
	if err := queue.Enqueue(NewJob("s", nil)); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after Stop, got %v", err)
	}
}

func TestQueueReapsIdleLanes(t *testing.T) {
	queue := NewQueue(1)
	queue.idleTimeout = 20 * time.Millisecond
	queue.Start(context.Background())
	defer queue.Stop()

	done := make(chan struct{})
	if err := queue.Enqueue(NewJob("idle", func(ctx context.Context) error {
		close(done)
		return nil
	})); err != nil {
		t.Fatal(err)
	}
	<-done

	deadline := time.Now().Add(2 * time.Second)
	for queue.Lanes() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected idle lane to be reaped, still have %d", queue.Lanes())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A reaped session gets a fresh lane.
	again := make(chan struct{})
	if err := queue.Enqueue(NewJob("idle", func(ctx context.Context) error {
		close(again)
		return nil
	})); err != nil {
		t.Fatal(err)
	}
	select {
	case <-again:
	case <-time.After(2 * time.Second):
		t.Fatal("job on re-created lane never ran")
	}
}

func TestQueueWaitIdle(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	if err := queue.Enqueue(NewJob("s", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})); err != nil {
		t.Fatal(err)
	}
	<-started

	if queue.WaitIdle(50 * time.Millisecond) {
		t.Error("expected WaitIdle to time out while a job runs")
	}
	close(release)
	if !queue.WaitIdle(2 * time.Second) {
		t.Error("expected queue to become idle")
	}
}

func TestQueueWaitIdleCoversBufferedJobs(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	const n = 5
	var done atomic.Int32
	for i := 0; i < n; i++ {
		if err := queue.Enqueue(NewJob("s", func(ctx context.Context) error {
			time.Sleep(30 * time.Millisecond)
			done.Add(1)
			return nil
		})); err != nil {
			t.Fatal(err)
		}
	}

	if !queue.WaitIdle(5 * time.Second) {
		t.Fatal("expected queue to become idle")
	}
	if got := done.Load(); got != n {
		t.Errorf("WaitIdle returned with %d of %d jobs done", got, n)
	}
}
