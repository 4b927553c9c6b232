// Package clock provides an injectable time source so deferred actions can be
// driven deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancellable deferred call.
type Timer interface {
	// Stop prevents the call from firing. It reports whether the call was
	// still pending.
	Stop() bool
}

// Clock abstracts the parts of the time package that AckPipe relies on.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns a Clock backed by the standard library.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// FakeClock is a manually advanced Clock. AfterFunc callbacks run
// synchronously inside Advance, in deadline order.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	callback func()
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock frozen at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc registers f to run once the clock has advanced by d.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, w)
	return &fakeTimer{clock: c, waiter: w}
}

// Advance moves the clock forward and fires every due callback. Callbacks
// are invoked without the clock lock held, so they may arm new timers.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	for {
		due := c.nextDueLocked(target)
		if due == nil {
			break
		}
		due.fired = true
		c.current = due.deadline
		c.mu.Unlock()
		due.callback()
		c.mu.Lock()
	}
	c.current = target
	c.compactLocked()
	c.mu.Unlock()
}

// Pending returns the number of armed, unfired timers.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeWaiter {
	var live []*fakeWaiter
	for _, w := range c.waiters {
		if !w.stopped && !w.fired && !w.deadline.After(target) {
			live = append(live, w)
		}
	}
	if len(live) == 0 {
		return nil
	}
	sort.SliceStable(live, func(i, j int) bool { return live[i].deadline.Before(live[j].deadline) })
	return live[0]
}

func (c *FakeClock) compactLocked() {
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			kept = append(kept, w)
		}
	}
	c.waiters = kept
}

type fakeTimer struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.waiter.stopped || t.waiter.fired {
		return false
	}
	t.waiter.stopped = true
	return true
}
