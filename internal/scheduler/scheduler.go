// Package scheduler runs cancellable background jobs on a bounded worker pool
// and delivers their results on a single sequential foreground executor.
//
// Independent jobs run in no particular order. A continuation created with
// ContinueAfter or Deliver runs strictly after its dependency and is skipped
// when the dependency was cancelled. Deliveries reach the foreground in the
// order their dependencies completed.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Observer is notified whenever a job reaches a terminal state.
type Observer interface {
	JobFinished(kind, outcome string, elapsed time.Duration)
}

type Scheduler struct {
	workers    *Pool
	foreground *Pool
	log        *zap.Logger
	observer   Observer

	// mu serializes job completion so that continuations are queued in
	// completion order.
	mu sync.Mutex
}

func New(workers int, log *zap.Logger, observer Observer) *Scheduler {
	return &Scheduler{
		workers:    NewPool("workers", workers, log),
		foreground: NewPool("foreground", 1, log),
		log:        log,
		observer:   observer,
	}
}

// Foreground returns the sequential executor that owns UI-observable state.
func (s *Scheduler) Foreground() *Pool {
	return s.foreground
}

// Close drains the worker pool and then the foreground executor.
func (s *Scheduler) Close() {
	s.workers.Close()
	s.foreground.Close()
}

// Submit schedules fn on the worker pool.
func Submit[T any](s *Scheduler, kind string, fn Func[T]) *Job[T] {
	j := newJob(s, s.workers, kind, fn)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatch(j)
	return j
}

// ContinueAfter returns a job that runs cb(parent) on the worker pool once
// parent is terminal. If parent is cancelled, cb is never invoked and the
// returned job ends cancelled.
func ContinueAfter[T, U any](parent *Job[T], kind string, cb func(*Job[T]) (U, error)) *Job[U] {
	return continueOn(parent, parent.s.workers, kind, cb)
}

// Deliver is ContinueAfter on the foreground executor.
func Deliver[T any](parent *Job[T], cb func(*Job[T])) *Job[struct{}] {
	return continueOn(parent, parent.s.foreground, "deliver_"+parent.kind, func(p *Job[T]) (struct{}, error) {
		cb(p)
		return struct{}{}, nil
	})
}

func continueOn[T, U any](parent *Job[T], exec *Pool, kind string, cb func(*Job[T]) (U, error)) *Job[U] {
	s := parent.s
	child := newJob(s, exec, kind, func(context.Context) (U, error) {
		return cb(parent)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	parent.then(func(cancelled bool) {
		if cancelled {
			var zero U
			child.terminate(StateCancelled, zero, ErrCancelled)
			return
		}
		s.dispatch(child)
	})
	return child
}

func newJob[T any](s *Scheduler, exec *Pool, kind string, fn Func[T]) *Job[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job[T]{
		id:     uuid.NewString(),
		kind:   kind,
		s:      s,
		exec:   exec,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
		state:  StatePending,
		done:   make(chan struct{}),
	}
}

type runnable interface {
	run()
	abort()
	pool() *Pool
}

func (j *Job[T]) pool() *Pool { return j.exec }

// dispatch hands j to its executor. Callers hold s.mu.
func (s *Scheduler) dispatch(j runnable) {
	if !j.pool().TryExecute(j.run) {
		s.log.Warn("Executor closed, job cancelled")
		j.abort()
	}
}
