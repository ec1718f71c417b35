package core

import (
	"sync"
	"sync/atomic"
)

// VolatileCounter is a non-negative integer safe for concurrent
// increment/decrement, with the ability to wait until it observes zero.
//
// Increment returns a release handle; the caller must call it exactly
// once on every exit path (including cancellation) to decrement the
// counter. A second call to the same handle is a no-op.
type VolatileCounter struct {
	n int64

	mu   sync.Mutex
	zero chan struct{} // closed while n == 0; replaced each time n becomes non-zero
}

// NewVolatileCounter returns a counter starting at zero.
func NewVolatileCounter() *VolatileCounter {
	c := &VolatileCounter{zero: make(chan struct{})}
	close(c.zero)
	return c
}

// Increment bumps the counter and returns a release func that decrements
// it. Safe to call concurrently.
func (c *VolatileCounter) Increment() (release func()) {
	if atomic.AddInt64(&c.n, 1) == 1 {
		c.mu.Lock()
		select {
		case <-c.zero:
			// was closed (zero); replace with a fresh, open channel.
			c.zero = make(chan struct{})
		default:
			// already non-zero-signaling; nothing to do.
		}
		c.mu.Unlock()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if atomic.AddInt64(&c.n, -1) == 0 {
				c.mu.Lock()
				select {
				case <-c.zero:
					// already closed, leave it.
				default:
					close(c.zero)
				}
				c.mu.Unlock()
			}
		})
	}
}

// Value samples the current count.
func (c *VolatileCounter) Value() int64 {
	return atomic.LoadInt64(&c.n)
}

// IsZero is a sampled predicate, equivalent to Value() == 0.
func (c *VolatileCounter) IsZero() bool {
	return c.Value() == 0
}

// WaitForZero blocks until the counter is observed at zero. If it is
// already zero, it returns immediately. Because the counter can bounce
// above zero again after this returns, callers needing a stable
// snapshot must pair this with their own synchronization (as the
// pipeline does via per-document throttling).
func (c *VolatileCounter) WaitForZero() {
	for {
		c.mu.Lock()
		ch := c.zero
		c.mu.Unlock()

		if c.IsZero() {
			// Double check: the zero channel might have been replaced
			// between the IsZero() sample and now if another goroutine
			// incremented concurrently; re-reading guards that race by
			// always waiting on the channel captured just before the check.
			select {
			case <-ch:
				return
			default:
				continue
			}
		}
		<-ch
	}
}
