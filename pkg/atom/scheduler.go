package atom

import "sync"

// Scheduler defers work to a later scheduling opportunity. The graph uses
// it to run coalesced recompute passes outside of Set.
type Scheduler interface {
	// Schedule enqueues fn to run on the scheduler's next tick. Tasks run
	// to completion one at a time, in the order they were scheduled.
	Schedule(fn func())
}

// QueueScheduler queues tasks until Drain is called. It makes coalescing
// behavior deterministic: tests and cooperative hosts decide exactly when
// the pending recompute pass runs.
type QueueScheduler struct {
	mu    sync.Mutex
	tasks []func()
}

// NewQueueScheduler creates an empty queue scheduler.
func NewQueueScheduler() *QueueScheduler {
	return &QueueScheduler{}
}

// Schedule enqueues fn.
func (q *QueueScheduler) Schedule(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()
}

// Len returns the number of queued tasks.
func (q *QueueScheduler) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Drain runs queued tasks until the queue is empty, including tasks
// scheduled while draining. Returns the number of tasks executed.
func (q *QueueScheduler) Drain() int {
	n := 0
	for {
		q.mu.Lock()
		tasks := q.tasks
		q.tasks = nil
		q.mu.Unlock()

		if len(tasks) == 0 {
			return n
		}
		for _, fn := range tasks {
			fn()
			n++
		}
	}
}

// AsyncScheduler runs tasks on a single background goroutine, providing
// "next tick" semantics for hosts without a cooperative loop. Tasks never
// interleave: each runs to completion before the next starts.
type AsyncScheduler struct {
	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped sync.Once
	idle    sync.WaitGroup
}

// NewAsyncScheduler creates and starts an async scheduler. Stop must be
// called on teardown.
func NewAsyncScheduler() *AsyncScheduler {
	s := &AsyncScheduler{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	s.idle.Add(1)
	go s.loop()
	return s
}

// Schedule enqueues fn for execution on the worker goroutine.
// Tasks scheduled after Stop are dropped.
func (s *AsyncScheduler) Schedule(fn func()) {
	if fn == nil {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}

	s.mu.Lock()
	s.tasks = append(s.tasks, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stop terminates the worker goroutine and waits for it to exit.
// Queued tasks that have not started are discarded.
func (s *AsyncScheduler) Stop() {
	s.stopped.Do(func() {
		close(s.done)
	})
	s.idle.Wait()
}

func (s *AsyncScheduler) loop() {
	defer s.idle.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			tasks := s.tasks
			s.tasks = nil
			s.mu.Unlock()

			if len(tasks) == 0 {
				break
			}
			for _, fn := range tasks {
				select {
				case <-s.done:
					return
				default:
				}
				fn()
			}
		}
	}
}
