package atom

import (
	"sync"
	"testing"
	"time"
)

func TestQueueSchedulerDrainOrder(t *testing.T) {
	q := NewQueueScheduler()

	var order []int
	q.Schedule(func() { order = append(order, 1) })
	q.Schedule(func() { order = append(order, 2) })

	if q.Len() != 2 {
		t.Fatalf("expected 2 queued tasks, got %d", q.Len())
	}
	if n := q.Drain(); n != 2 {
		t.Errorf("expected 2 tasks drained, got %d", n)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected execution order [1 2], got %v", order)
	}
}

func TestQueueSchedulerDrainIncludesNestedTasks(t *testing.T) {
	q := NewQueueScheduler()

	ran := false
	q.Schedule(func() {
		q.Schedule(func() { ran = true })
	})

	q.Drain()
	if !ran {
		t.Error("task scheduled during drain must run in the same drain")
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue after drain, got %d", q.Len())
	}
}

func TestAsyncSchedulerRunsTasks(t *testing.T) {
	s := NewAsyncScheduler()
	defer s.Stop()

	var wg sync.WaitGroup
	wg.Add(3)
	var mu sync.Mutex
	count := 0
	for i := 0; i < 3; i++ {
		s.Schedule(func() {
			mu.Lock()
			count++
			mu.Unlock()
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled tasks did not run")
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Errorf("expected 3 tasks run, got %d", count)
	}
}

func TestAsyncSchedulerStopDropsNewTasks(t *testing.T) {
	s := NewAsyncScheduler()
	s.Stop()
	s.Stop() // idempotent

	// Must not panic or block.
	s.Schedule(func() { t.Error("task after Stop must not run") })
	time.Sleep(20 * time.Millisecond)
}
