// Ringq queues are double-ended queues of strings kept on an intrusive circular list. A queue owns a sentinel link
// and every element reachable from it. Queues are not safe for concurrent use: callers sharing a queue across
// goroutines must guard it themselves, see the port package for an example.
//
// Every method tolerates a nil *Queue: mutations return ErrInvalidArgument or do nothing and queries return zero.
// The zero Queue is an empty queue ready to use.

package queue

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/nobletooth/ringq/pkg/list"
	"github.com/nobletooth/ringq/pkg/utils"
)

var (
	// ErrAllocationFailure is returned when an element couldn't be allocated; the queue is left unchanged.
	ErrAllocationFailure = errors.New("allocation failure")
	// ErrEmptyQueue is returned when removing from a queue that has no elements.
	ErrEmptyQueue = errors.New("queue is empty")
	// ErrInvalidArgument is returned for nil queues and other unusable arguments.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Options tune a new queue; zero fields fall back to defaults.
type Options struct {
	Allocator Allocator                // Defaults to HeapAllocator.
	Compare   utils.CompareFn[string] // Defaults to byte-wise lexicographic order.
}

// Queue is a double-ended queue of strings.
type Queue struct {
	head    list.Link[*Element] // Sentinel; lazily initialized so the zero Queue is usable.
	alloc   Allocator
	compare utils.CompareFn[string]
}

// New returns an empty queue with default options.
func New() *Queue {
	return NewWithOptions(Options{})
}

// NewWithOptions returns an empty queue using the given allocator and comparison.
func NewWithOptions(opts Options) *Queue {
	q := &Queue{alloc: opts.Allocator, compare: opts.Compare}
	q.sentinel()
	return q
}

// sentinel returns the sentinel link, initializing it on first use.
func (q *Queue) sentinel() *list.Link[*Element] {
	if q.head.Next() == nil {
		q.head.Init(nil)
	}
	return &q.head
}

func (q *Queue) allocator() Allocator {
	if q.alloc == nil {
		return HeapAllocator{}
	}
	return q.alloc
}

// Compare returns the comparison used by ordering operations.
func (q *Queue) Compare() utils.CompareFn[string] {
	if q == nil || q.compare == nil {
		return strings.Compare
	}
	return q.compare
}

// Free releases every element of the queue, leaving it empty.
func (q *Queue) Free() {
	if q == nil {
		return
	}
	head := q.sentinel()
	for !head.Empty() {
		e := head.Next().Entry()
		e.link.Unlink()
		e.Release()
	}
}

// newElement allocates an element for `value` and binds it to the queue allocator.
func (q *Queue) newElement(value string) (*Element, error) {
	alloc := q.allocator()
	e, err := alloc.Allocate(value)
	if err != nil {
		if errors.Is(err, ErrAllocationFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrAllocationFailure, err)
	}
	if e == nil {
		return nil, fmt.Errorf("%w: allocator returned no element", ErrAllocationFailure)
	}
	if e.link.Next() == nil { // Not built with NewElement.
		e.link.Init(e)
	}
	e.alloc = alloc
	return e, nil
}

// InsertHead inserts a copy of `value` at the front of the queue.
func (q *Queue) InsertHead(value string) error {
	if q == nil {
		return fmt.Errorf("%w: nil queue", ErrInvalidArgument)
	}
	e, err := q.newElement(value)
	if err != nil {
		return err
	}
	e.link.InsertAfter(q.sentinel())
	return nil
}

// InsertTail inserts a copy of `value` at the back of the queue.
func (q *Queue) InsertTail(value string) error {
	if q == nil {
		return fmt.Errorf("%w: nil queue", ErrInvalidArgument)
	}
	e, err := q.newElement(value)
	if err != nil {
		return err
	}
	e.link.InsertBefore(q.sentinel())
	return nil
}

// remove detaches the element of `link` and copies its payload into `buf`.
func (q *Queue) remove(link *list.Link[*Element], buf []byte) *Element {
	e := link.Entry()
	e.link.Unlink()
	copyOut(buf, e.Value)
	return e
}

// RemoveHead detaches the front element and returns it; the caller owns it and must Release it. When `buf` is not
// empty, the payload is copied into it, truncated to len(buf)-1 bytes and NUL terminated.
func (q *Queue) RemoveHead(buf []byte) (*Element, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: nil queue", ErrInvalidArgument)
	}
	head := q.sentinel()
	if head.Empty() {
		return nil, ErrEmptyQueue
	}
	return q.remove(head.Next(), buf), nil
}

// RemoveTail detaches the back element and returns it; it behaves like RemoveHead otherwise.
func (q *Queue) RemoveTail(buf []byte) (*Element, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: nil queue", ErrInvalidArgument)
	}
	head := q.sentinel()
	if head.Empty() {
		return nil, ErrEmptyQueue
	}
	return q.remove(head.Prev(), buf), nil
}

// Size counts the elements of the queue by walking it.
func (q *Queue) Size() int {
	if q == nil {
		return 0
	}
	return q.sentinel().Len()
}

// Empty returns true when the queue has no elements. Unlike Size, it doesn't walk the queue.
func (q *Queue) Empty() bool {
	return q == nil || q.sentinel().Empty()
}

// Values returns a copy of the payloads in queue order.
func (q *Queue) Values() []string {
	if q == nil {
		return nil
	}
	return slices.AppendSeq(make([]string, 0), q.All())
}

// All returns an iterator over the payloads in queue order. The queue must not be modified while iterating.
func (q *Queue) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		if q == nil {
			return
		}
		head := q.sentinel()
		for n := head.Next(); n != head; n = n.Next() {
			if !yield(n.Entry().Value) {
				return
			}
		}
	}
}

// Verify checks the ring invariants of the queue and that every link belongs to the element that embeds it.
// It returns the number of elements.
func (q *Queue) Verify() (int, error) {
	if q == nil {
		return 0, nil
	}
	head := q.sentinel()
	count, err := head.Verify()
	if err != nil {
		return count, err
	}
	if head.Entry() != nil {
		return count, fmt.Errorf("%w: sentinel carries an element", list.ErrBrokenLink)
	}
	position := 0
	for n := head.Next(); n != head; n = n.Next() {
		if e := n.Entry(); e == nil || &e.link != n {
			return count, fmt.Errorf("%w: link %d doesn't belong to its element", list.ErrBrokenLink, position)
		} else if e.released {
			return count, fmt.Errorf("%w: released element at %d", list.ErrBrokenLink, position)
		}
		position++
	}
	return count, nil
}
