// A chain is an ordered set of independent queues, e.g. the queues a harness session works with. Merging a chain
// moves every element into its first queue; the other queues stay valid and empty.

package queue

import (
	"fmt"
	"slices"
)

// Chain holds distinct queues in insertion order.
type Chain struct {
	queues []*Queue
}

// Add appends `q` to the chain. A queue can't be added twice.
func (c *Chain) Add(q *Queue) error {
	if c == nil || q == nil {
		return fmt.Errorf("%w: nil chain or queue", ErrInvalidArgument)
	}
	if slices.Contains(c.queues, q) {
		return fmt.Errorf("%w: queue is already chained", ErrInvalidArgument)
	}
	c.queues = append(c.queues, q)
	return nil
}

// Remove takes `q` out of the chain without freeing it. Returns false if it wasn't chained.
func (c *Chain) Remove(q *Queue) bool {
	if c == nil {
		return false
	}
	idx := slices.Index(c.queues, q)
	if idx < 0 {
		return false
	}
	c.queues = slices.Delete(c.queues, idx, idx+1)
	return true
}

// Len returns the number of chained queues.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.queues)
}

// At returns the queue at position `idx` or nil when out of range.
func (c *Chain) At(idx int) *Queue {
	if c == nil || idx < 0 || idx >= len(c.queues) {
		return nil
	}
	return c.queues[idx]
}

// Index returns the position of `q` in the chain or -1.
func (c *Chain) Index(q *Queue) int {
	if c == nil {
		return -1
	}
	return slices.Index(c.queues, q)
}

// Queues returns a copy of the chained queues.
func (c *Chain) Queues() []*Queue {
	if c == nil {
		return nil
	}
	return slices.Clone(c.queues)
}

// Merge merges every queue into the first one, which accumulates the result pairwise against each following queue.
// All queues are expected to be sorted in the requested direction already; the first queue's comparison is used.
// Returns the size of the first queue, or 0 for an empty chain.
func (c *Chain) Merge(descend bool) int {
	if c.Len() == 0 {
		return 0
	}
	first := c.queues[0]
	keep := keepOrder(first.Compare(), descend)
	for _, q := range c.queues[1:] {
		first.sentinel().Merge(q.sentinel(), keep)
	}
	return first.Size()
}
