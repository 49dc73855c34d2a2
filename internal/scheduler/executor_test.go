package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPoolRunsQueuedTasks(t *testing.T) {
	p := NewPool("test", 4, zap.NewNop())

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		p.Execute(func() {
			defer wg.Done()
			ran.Add(1)
		})
	}
	wg.Wait()
	p.Close()

	assert.Equal(t, int32(50), ran.Load())
}

func TestSingleWorkerPoolIsSequential(t *testing.T) {
	p := NewPool("foreground", 1, zap.NewNop())

	var order []int
	var active, maxActive atomic.Int32
	for i := 0; i < 20; i++ {
		i := i
		p.Execute(func() {
			n := active.Add(1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			order = append(order, i)
			active.Add(-1)
		})
	}
	p.Close()

	assert.Equal(t, int32(1), maxActive.Load())
	for i := range order {
		assert.Equal(t, i, order[i])
	}
}

func TestPoolCallWaits(t *testing.T) {
	p := NewPool("test", 1, zap.NewNop())
	defer p.Close()

	value := 0
	p.Call(func() { value = 42 })
	assert.Equal(t, 42, value)
}

func TestPoolSurvivesPanickingTask(t *testing.T) {
	p := NewPool("test", 1, zap.NewNop())
	defer p.Close()

	p.Execute(func() { panic("boom") })

	ran := false
	p.Call(func() { ran = true })
	assert.True(t, ran)
}

func TestPoolClose(t *testing.T) {
	p := NewPool("test", 2, zap.NewNop())

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		p.Execute(func() { ran.Add(1) })
	}
	p.Close()
	assert.Equal(t, int32(10), ran.Load(), "close drains queued tasks")

	assert.False(t, p.TryExecute(func() {}))
	p.Execute(func() { ran.Add(1) })
	p.Call(func() { ran.Add(1) })
	assert.Equal(t, int32(10), ran.Load())

	p.Close()
}
