package scheduler

import (
	"sync"

	"go.uber.org/zap"
)

// Pool runs tasks on a fixed number of goroutines fed by an unbounded FIFO
// queue. A Pool with one worker is a sequential executor: its tasks run one at
// a time in submission order.
type Pool struct {
	name string
	log  *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	wg     sync.WaitGroup
}

func NewPool(name string, workers int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{name: name, log: log}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Execute queues task. Tasks queued after Close are dropped.
func (p *Pool) Execute(task func()) {
	if !p.TryExecute(task) {
		p.log.Warn("Task dropped, executor closed", zap.String("executor", p.name))
	}
}

// TryExecute queues task and reports whether the pool accepted it.
func (p *Pool) TryExecute(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	p.queue = append(p.queue, task)
	p.cond.Signal()
	return true
}

// Call runs task on the pool and waits for it to return. It returns
// immediately without running task if the pool is closed. Calling it from a
// task of a single-worker pool deadlocks.
func (p *Pool) Call(task func()) {
	done := make(chan struct{})
	ok := p.TryExecute(func() {
		defer close(done)
		task()
	})
	if ok {
		<-done
	}
}

// Close stops accepting tasks, drains the queue and waits for the workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Task panicked", zap.String("executor", p.name), zap.Any("panic", r))
		}
	}()
	task()
}
