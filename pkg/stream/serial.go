// Package stream provides the small reactive toolkit the batch engine is built on:
// a serial executor, passthrough signals with merge/map/filter combinators and
// last-value-cached observable values.
//
// Everything that mutates observable state runs on a Serial. A Serial has no
// goroutine of its own: whichever caller finds it idle drains the queue on its
// own goroutine. Work submitted from inside a running task is queued and run
// after that task, in order. Any other goroutine that finds the executor busy
// blocks until its own task has run, so Do always returns with its effect
// applied unless it was called from the executor itself.
package stream

import "sync"

// Serial runs submitted functions one at a time in submission order.
type Serial struct {
	mu      sync.Mutex
	queue   []func()
	running bool
	drainer uint64
}

// Do runs fn on the executor. When the executor is idle fn runs on the calling
// goroutine before Do returns. When another goroutine is draining, Do waits
// until fn has run and re-raises a panic from fn on the caller. A call made
// from inside a running fn only queues.
func (s *Serial) Do(fn func()) {
	id := goid()

	s.mu.Lock()
	if !s.running {
		s.queue = append(s.queue, fn)
		s.running = true
		s.drainer = id
		s.mu.Unlock()
		s.drain()
		return
	}
	if s.drainer == id {
		s.queue = append(s.queue, fn)
		s.mu.Unlock()
		return
	}
	w := &waiter{fn: fn, done: make(chan struct{})}
	s.queue = append(s.queue, w.run)
	s.mu.Unlock()

	<-w.done
	if w.panicked {
		panic(w.value)
	}
}

func (s *Serial) drain() {
	clean := false
	defer func() {
		if clean {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.queue) == 0 {
			s.running = false
			return
		}
		// Callers blocked in Do still wait on the rest of the queue.
		s.drainer = 0
		go s.handoff()
	}()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.drainer = 0
			s.mu.Unlock()
			clean = true
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()
	}
}

// handoff continues draining on a fresh goroutine after a task panicked.
func (s *Serial) handoff() {
	s.mu.Lock()
	s.drainer = goid()
	s.mu.Unlock()
	s.drain()
}

// waiter carries a task submitted by a goroutine that blocks in Do.
type waiter struct {
	fn       func()
	done     chan struct{}
	panicked bool
	value    any
}

func (w *waiter) run() {
	defer func() {
		if r := recover(); r != nil {
			w.panicked = true
			w.value = r
		}
		close(w.done)
	}()
	w.fn()
}
