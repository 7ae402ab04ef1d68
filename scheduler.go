package metergate

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

const (
	defaultConcurrency  = 100
	defaultQueueTimeout = 10 * time.Second
)

// Job is a unit of work run by the Scheduler in the submitting goroutine.
type Job func(ctx context.Context) error

// Scheduler bounds the number of concurrently running jobs. Excess
// submissions wait in FIFO order until a slot frees up or their queue
// timeout fires. A running job is never interrupted by the scheduler.
type Scheduler struct {
	mu           sync.Mutex
	limit        int
	queueTimeout time.Duration
	active       int
	queue        *list.List // of *waiter
	closed       bool
	meter        Meter
}

type waiter struct {
	ready    chan struct{}
	promoted bool
	err      error
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerMeter reports queue waits to m.
func WithSchedulerMeter(m Meter) SchedulerOption {
	return func(s *Scheduler) { s.meter = m }
}

// NewScheduler creates a scheduler. Zero values select the defaults
// (100 slots, 10s queue timeout).
func NewScheduler(limit int, queueTimeout time.Duration, opts ...SchedulerOption) *Scheduler {
	if limit <= 0 {
		limit = defaultConcurrency
	}
	if queueTimeout <= 0 {
		queueTimeout = defaultQueueTimeout
	}
	s := &Scheduler{
		limit:        limit,
		queueTimeout: queueTimeout,
		queue:        list.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.meter == nil {
		s.meter = &noopMeter{}
	}
	return s
}

// Submit waits for a free slot, runs job and releases the slot.
// It returns ErrQueueTimeout if no slot was claimed within the queue
// timeout, or ctx.Err() if ctx ended while queued.
func (s *Scheduler) Submit(ctx context.Context, job Job) error {
	start := time.Now()
	err := s.acquire(ctx)

	stats := s.Stats()
	s.meter.OnQueue(QueueEvent{
		Waited:   time.Since(start),
		Active:   stats.Active,
		Queued:   stats.Queued,
		TimedOut: errors.Is(err, ErrQueueTimeout),
	})
	if err != nil {
		return err
	}

	defer s.release()
	return job(ctx)
}

func (s *Scheduler) acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	if s.active < s.limit && s.queue.Len() == 0 {
		s.active++
		s.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	el := s.queue.PushBack(w)
	s.mu.Unlock()

	timer := time.NewTimer(s.queueTimeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		return w.err
	case <-timer.C:
		if s.abandon(el, w) {
			return ErrQueueTimeout
		}
		// Promoted or closed while the timer fired.
		return w.err
	case <-ctx.Done():
		if s.abandon(el, w) {
			return ctx.Err()
		}
		if w.err != nil {
			return w.err
		}
		s.release()
		return ctx.Err()
	}
}

// abandon removes a queued waiter. It returns false if the waiter was
// promoted before the lock was taken.
func (s *Scheduler) abandon(el *list.Element, w *waiter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.promoted || w.err != nil {
		return false
	}
	s.queue.Remove(el)
	return true
}

// release hands the slot to the oldest waiter, keeping active unchanged,
// or frees it when nobody waits.
func (s *Scheduler) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if front := s.queue.Front(); front != nil && !s.closed {
		w := s.queue.Remove(front).(*waiter)
		w.promoted = true
		close(w.ready)
		return
	}
	s.active--
}

// Close rejects queued and future submissions with ErrSchedulerClosed.
// Running jobs finish normally.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for el := s.queue.Front(); el != nil; el = s.queue.Front() {
		w := s.queue.Remove(el).(*waiter)
		w.err = ErrSchedulerClosed
		close(w.ready)
	}
}

// SchedulerStats is a point-in-time view of the scheduler.
type SchedulerStats struct {
	Limit  int
	Active int
	Queued int
}

// Stats returns the current slot usage.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{Limit: s.limit, Active: s.active, Queued: s.queue.Len()}
}
