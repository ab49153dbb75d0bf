package session

import "sync"

// scheduler runs posted tasks one at a time, in order, on a single goroutine.
// Posting never blocks, so a task may post follow-up work for a later turn.
type scheduler struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newScheduler() *scheduler {
	s := &scheduler{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// post enqueues task. It reports false once the scheduler has been closed.
func (s *scheduler) post(task func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, task)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *scheduler) run() {
	defer close(s.done)
	for {
		task, ok := s.next()
		if ok {
			task()
			continue
		}

		select {
		case <-s.wake:
		case <-s.stop:
			return
		}
	}
}

func (s *scheduler) next() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return nil, false
	}
	task := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return task, true
}

// close stops the loop after the running task returns. Queued tasks are dropped.
func (s *scheduler) close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.stop)
	})
	<-s.done
}
