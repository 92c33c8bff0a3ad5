package channel

import (
	"sync"

	"go.uber.org/zap"
)

// dispatcher runs queued callbacks one at a time in FIFO order. Whichever
// goroutine finds the queue idle drains it; callers that arrive while a drain
// is running only enqueue, so a callback may re-enter the Manager without
// deadlocking and callbacks never overlap.
type dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	running bool
	logger  *zap.Logger
}

func (d *dispatcher) push(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
}

func (d *dispatcher) drain() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	for len(d.queue) > 0 {
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()
		d.call(fn)
		d.mu.Lock()
	}
	d.queue = nil
	d.running = false
	d.mu.Unlock()
}

func (d *dispatcher) call(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("listener panicked", zap.Any("panic", rec))
		}
	}()
	fn()
}
