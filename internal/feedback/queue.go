package feedback

import "sync"

// EffectQueue runs effects one at a time in the order they were dispatched.
// A worker goroutine is started when the first effect arrives and exits once
// the queue is empty, so an idle queue holds no goroutine and may be reused
// by timers that fire after the run has finished.
type EffectQueue struct {
	mu      sync.Mutex
	idle    *sync.Cond
	pending []func()
	running bool
}

// NewEffectQueue creates an empty queue.
func NewEffectQueue() *EffectQueue {
	q := &EffectQueue{}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Dispatch appends fn and returns without waiting for it. It satisfies
// Dispatcher.
func (q *EffectQueue) Dispatch(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, fn)
	if !q.running {
		q.running = true
		go q.work()
	}
}

func (q *EffectQueue) work() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}

// Wait blocks until every dispatched effect, including ones dispatched while
// waiting, has run.
func (q *EffectQueue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.running {
		q.idle.Wait()
	}
}
