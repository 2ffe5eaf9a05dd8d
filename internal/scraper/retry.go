package scraper

import (
	"sync"
	"time"
)

// RetryScheduler executes delayed retry jobs one at a time on a single
// worker goroutine. A job's delay counts from the moment it is
// scheduled; only the execution is serialized, so a backend-restart
// storm re-issues calls one by one without stacking their backoffs.
// Every Scraper in a run shares one scheduler. It is constructed by
// the run orchestrator and stopped once at shutdown.
type RetryScheduler struct {
	mu      sync.Mutex
	queue   []retryJob
	notify  chan struct{}
	stop    chan struct{}
	stopped sync.Once
	done    chan struct{}
}

type retryJob struct {
	readyAt time.Time
	fn      func()
}

// NewRetryScheduler creates and starts the scheduler worker.
func NewRetryScheduler() *RetryScheduler {
	s := &RetryScheduler{
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

// Schedule enqueues fn to run after at least delay, counted from now.
// Due jobs run strictly one at a time, soonest deadline first. Never
// blocks the caller. Jobs scheduled after Stop are dropped.
func (s *RetryScheduler) Schedule(delay time.Duration, fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, retryJob{readyAt: time.Now().Add(delay), fn: fn})
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Stop terminates the worker. Queued jobs that have not started are
// discarded. Stop blocks until the worker goroutine exits.
func (s *RetryScheduler) Stop() {
	s.stopped.Do(func() { close(s.stop) })
	<-s.done
}

func (s *RetryScheduler) loop() {
	defer close(s.done)
	for {
		fn, wait, ok := s.nextDue()
		switch {
		case !ok:
			select {
			case <-s.notify:
			case <-s.stop:
				return
			}
		case fn != nil:
			fn()
		default:
			// The soonest job is not due yet; a new job may still
			// undercut it, so a notify re-evaluates.
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-s.notify:
			case <-s.stop:
				timer.Stop()
				return
			}
			timer.Stop()
		}
	}
}

// nextDue pops and returns the job with the soonest deadline if it is
// already due, or reports how long until it is.
func (s *RetryScheduler) nextDue() (func(), time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, 0, false
	}

	soonest := 0
	for i := range s.queue[1:] {
		if s.queue[i+1].readyAt.Before(s.queue[soonest].readyAt) {
			soonest = i + 1
		}
	}
	if wait := time.Until(s.queue[soonest].readyAt); wait > 0 {
		return nil, wait, true
	}
	fn := s.queue[soonest].fn
	s.queue = append(s.queue[:soonest], s.queue[soonest+1:]...)
	return fn, 0, true
}
