package thumbnail

import (
	"image"
	"slices"
	"sync"

	"bigview/internal/scheduler"
)

// Handle is one requester's interest in a pending bitmap. Cancelling it
// detaches only that requester; the shared job is cancelled when its last
// requester leaves.
type Handle struct {
	p        *Pipeline
	f        *flight
	listener func(Delivery)

	once   sync.Once
	done   chan struct{}
	bitmap image.Image
	err    error
}

// attach registers a new handle on f. Callers hold p.mu.
func (f *flight) attach(p *Pipeline, listener func(Delivery)) *Handle {
	h := &Handle{
		p:        p,
		f:        f,
		listener: listener,
		done:     make(chan struct{}),
	}
	f.listeners = append(f.listeners, h)
	return h
}

func (h *Handle) Key() string {
	return h.f.key
}

// Done is closed once the handle has a result or was cancelled.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result is valid after Done is closed.
func (h *Handle) Result() (image.Image, error) {
	<-h.done
	return h.bitmap, h.err
}

// Cancel stops delivery to this handle's listener. It is a no-op once the
// result was delivered.
func (h *Handle) Cancel() {
	p, f := h.p, h.f

	p.mu.Lock()
	i := slices.Index(f.listeners, h)
	if f.closed || i < 0 {
		p.mu.Unlock()
		return
	}
	f.listeners = slices.Delete(f.listeners, i, i+1)
	last := len(f.listeners) == 0
	if last {
		f.closed = true
		if p.inflight[f.key] == f {
			delete(p.inflight, f.key)
		}
	}
	job := f.job
	p.mu.Unlock()

	h.resolve(nil, scheduler.ErrCancelled)
	if last {
		job.Cancel()
	}
}

func (h *Handle) resolve(bitmap image.Image, err error) {
	h.once.Do(func() {
		h.bitmap = bitmap
		h.err = err
		close(h.done)
	})
}
