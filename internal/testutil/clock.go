package testutil

import (
	"sync"
	"time"
)

// FakeClock is a manually driven clock for tests.
//
// Now() only moves when Advance or Set is called. Channels handed out by
// After fire once the clock has been advanced past their deadline, which lets
// tests drive the retry scheduler tick by tick without sleeping.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

// DefaultStart is the instant NewFakeClock uses when given the zero time.
var DefaultStart = time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)

// NewFakeClock creates a fake clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = DefaultStart
	}
	return &FakeClock{now: start}
}

// Now returns the frozen time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a waiter that fires when the clock reaches now+d.
// A non-positive duration fires immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward and fires every waiter that became due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.fireLocked()
}

// Set jumps the clock to t. Moving backwards is allowed but fires nothing.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
	c.fireLocked()
}

// Waiters returns the number of pending After channels.
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// BlockUntilWaiters waits until at least n After channels are pending or
// the real-time timeout elapses. Returns false on timeout.
func (c *FakeClock) BlockUntilWaiters(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Waiters() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return c.Waiters() >= n
}

func (c *FakeClock) fireLocked() {
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		remaining = append(remaining, w)
	}
	// Nil out the tail so dropped channels can be collected.
	for i := len(remaining); i < len(c.waiters); i++ {
		c.waiters[i] = fakeWaiter{}
	}
	c.waiters = remaining
}
