package monitor

import "sync"

// MaxPendingRequests is the number of concurrently pending deliveries
// below which a request may still be sent detached.
const MaxPendingRequests = 15

// Inflight counts deliveries that have not reached a terminal outcome.
//
// Begin is called once per sent batch and End exactly once when the
// delivery succeeds or is dropped after its retry.
//
// Thread-safety: Inflight is safe for concurrent use.
type Inflight struct {
	mu      sync.Mutex
	current int
}

// Begin increments the count and returns the new value.
func (c *Inflight) Begin() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current++
	return c.current
}

// End decrements the count. It never goes below zero.
func (c *Inflight) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current > 0 {
		c.current--
	}
}

// Current returns the number of pending deliveries.
func (c *Inflight) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
