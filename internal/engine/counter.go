package engine

import "sync/atomic"

// ByteCounter accumulates bytes from many workers. Only the sampler drains it.
type ByteCounter struct {
	n atomic.Uint64
}

func (c *ByteCounter) Add(n int) {
	if n <= 0 {
		return
	}
	c.n.Add(uint64(n))
}

// Load returns the current count without resetting it.
func (c *ByteCounter) Load() uint64 {
	return c.n.Load()
}

// Drain atomically returns the count and resets it to zero.
func (c *ByteCounter) Drain() uint64 {
	return c.n.Swap(0)
}
