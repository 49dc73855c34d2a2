package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"bigview/internal/logger"
)

var (
	ErrCancelled = errors.New("scheduler: job cancelled")
	ErrPanic     = errors.New("scheduler: job panicked")
)

type State int32

const (
	StatePending State = iota
	StateRunning
	StateDone
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (s State) Terminal() bool {
	return s >= StateDone
}

// Func is the body of a job. It must check ctx before expensive work and
// before committing side effects.
type Func[T any] func(ctx context.Context) (T, error)

// Job is a unit of background work and the handle its requester holds.
// It executes at most once and ends in exactly one of StateDone, StateFailed
// or StateCancelled. Only StateDone populates the result.
type Job[T any] struct {
	id   string
	kind string
	s    *Scheduler
	exec *Pool
	fn   Func[T]

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	cancelled bool
	started   time.Time
	result    T
	err       error
	next      []func(cancelled bool)
	done      chan struct{}
}

func (j *Job[T]) ID() string   { return j.id }
func (j *Job[T]) Kind() string { return j.kind }

func (j *Job[T]) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Done is closed once the job reaches a terminal state.
func (j *Job[T]) Done() <-chan struct{} {
	return j.done
}

// Result returns the value produced by a successfully completed job.
func (j *Job[T]) Result() (T, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.state == StateDone
}

// Err returns the failure of a terminal job: ErrCancelled, ErrPanic (wrapped)
// or the error returned by the job function.
func (j *Job[T]) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Wait blocks until the job is terminal or ctx ends.
func (j *Job[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.result, j.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel requests cancellation. A job that has not started never runs; a
// running job has its context cancelled and its result discarded. Either
// way its continuations are skipped.
func (j *Job[T]) Cancel() {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()

	j.mu.Lock()
	if j.state.Terminal() || j.cancelled {
		j.mu.Unlock()
		return
	}
	j.cancelled = true
	pending := j.state == StatePending
	j.mu.Unlock()

	j.cancel()
	if pending {
		var zero T
		j.terminate(StateCancelled, zero, ErrCancelled)
	}
}

func (j *Job[T]) run() {
	j.mu.Lock()
	if j.state != StatePending {
		j.mu.Unlock()
		return
	}
	j.state = StateRunning
	j.started = time.Now()
	j.mu.Unlock()

	log := j.s.log.With(zap.String("job_id", j.id), zap.String("kind", j.kind))
	result, err := j.invoke(logger.WithContext(j.ctx, log), log)

	j.s.mu.Lock()
	defer j.s.mu.Unlock()

	j.mu.Lock()
	cancelled := j.cancelled
	j.mu.Unlock()

	var zero T
	switch {
	case cancelled:
		j.terminate(StateCancelled, zero, ErrCancelled)
	case err != nil:
		log.Debug("Job failed", zap.Error(err))
		j.terminate(StateFailed, zero, err)
	default:
		j.terminate(StateDone, result, nil)
	}
}

func (j *Job[T]) invoke(ctx context.Context, log *zap.Logger) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job panicked", zap.Any("panic", r))
			var zero T
			result, err = zero, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return j.fn(ctx)
}

// terminate moves the job to a terminal state and releases its
// continuations. Callers hold s.mu, which orders completions globally.
func (j *Job[T]) terminate(state State, result T, err error) {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return
	}
	j.state = state
	j.result = result
	j.err = err
	next := j.next
	j.next = nil
	var elapsed time.Duration
	if !j.started.IsZero() {
		elapsed = time.Since(j.started)
	}
	close(j.done)
	j.mu.Unlock()

	j.cancel()
	if j.s.observer != nil {
		j.s.observer.JobFinished(j.kind, state.String(), elapsed)
	}

	cancelled := state == StateCancelled
	for _, fn := range next {
		fn(cancelled)
	}
}

// then registers fn to run when the job becomes terminal. Callers hold s.mu.
func (j *Job[T]) then(fn func(cancelled bool)) {
	j.mu.Lock()
	if !j.state.Terminal() {
		j.next = append(j.next, fn)
		j.mu.Unlock()
		return
	}
	cancelled := j.state == StateCancelled
	j.mu.Unlock()
	fn(cancelled)
}

// abort ends a job whose executor refused it. Callers hold s.mu.
func (j *Job[T]) abort() {
	var zero T
	j.terminate(StateCancelled, zero, ErrCancelled)
}
