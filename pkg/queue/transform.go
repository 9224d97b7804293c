package queue

import (
	"fmt"

	"github.com/nobletooth/ringq/pkg/list"
)

// drop unlinks the element of `link` and releases it.
func drop(link *list.Link[*Element]) {
	e := link.Entry()
	e.link.Unlink()
	e.Release()
}

// DeleteMid removes and releases the element at index size/2 (rounded down, counted from the front).
func (q *Queue) DeleteMid() error {
	if q == nil {
		return fmt.Errorf("%w: nil queue", ErrInvalidArgument)
	}
	head := q.sentinel()
	if head.Empty() {
		return ErrEmptyQueue
	}
	// Walk from both ends until the cursors meet (odd size) or become adjacent (even size). In the even case the
	// backward cursor sits on index size/2.
	forward, backward := head.Next(), head.Prev()
	for forward != backward && forward.Next() != backward {
		forward, backward = forward.Next(), backward.Prev()
	}
	drop(backward)
	return nil
}

// DeleteDup expects a sorted queue and removes every run of equal adjacent elements entirely: no copy of a
// duplicated value survives. Returns true if anything was removed.
func (q *Queue) DeleteDup() bool {
	if q == nil {
		return false
	}
	head := q.sentinel()
	compare := q.Compare()
	removed := false
	for cursor := head.Next(); cursor != head; {
		next := cursor.Next()
		if next == head || compare(cursor.Entry().Value, next.Entry().Value) != 0 {
			cursor = next
			continue
		}
		// Drop the whole run, including the last member.
		value := cursor.Entry().Value
		for cursor != head && compare(cursor.Entry().Value, value) == 0 {
			next = cursor.Next()
			drop(cursor)
			cursor = next
		}
		removed = true
	}
	return removed
}

// Swap exchanges every two adjacent elements by relinking them.
func (q *Queue) Swap() {
	if q == nil {
		return
	}
	q.sentinel().SwapPairs()
}

// Reverse reverses the queue in place.
func (q *Queue) Reverse() {
	if q == nil {
		return
	}
	q.sentinel().Reverse()
}

// ReverseK reverses every group of `k` consecutive elements; a trailing shorter group keeps its order.
// `k <= 1` leaves the queue untouched.
func (q *Queue) ReverseK(k int) {
	if q == nil || k <= 1 {
		return
	}
	q.sentinel().ReverseGroups(k)
}
