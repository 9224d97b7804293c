// Elements are the members of a queue. Each one embeds its list link and owns a private copy of its payload.
// Elements come from an Allocator when a value is inserted and go back to it when their owner releases them, either
// after a removal or when the queue is freed. Relinking algorithms never touch the allocator.

package queue

import (
	"strings"

	"github.com/nobletooth/ringq/pkg/list"
	"github.com/nobletooth/ringq/pkg/utils"
)

// Element is a queue member holding one string payload.
type Element struct {
	Value    string
	link     list.Link[*Element]
	alloc    Allocator // The allocator that handed out this element; receives it back on Release.
	released bool
}

// NewElement returns a detached element holding a copy of `value`. Allocators use it to build elements.
func NewElement(value string) *Element {
	e := &Element{Value: strings.Clone(value)}
	e.link.Init(e)
	return e
}

// detached returns true when the element isn't linked into any queue.
func (e *Element) detached() bool {
	return e.link.Next() == &e.link
}

// Release hands a detached element back to its allocator. Each element must be released exactly once.
func (e *Element) Release() {
	if e == nil {
		return
	}
	if e.released {
		utils.RaiseInvariant("queue", "double_release", "An element was released twice.", "value", e.Value)
		return
	}
	if !e.detached() {
		utils.RaiseInvariant("queue", "release_linked", "A linked element was released.", "value", e.Value)
		return
	}
	e.released = true
	if e.alloc != nil {
		e.alloc.Free(e)
	}
}

// Allocator owns the element lifecycle of a queue.
type Allocator interface {
	// Allocate returns a new detached element holding a copy of `value`, usually built by NewElement.
	// Failures should wrap ErrAllocationFailure.
	Allocate(value string) (*Element, error)
	// Free is called exactly once for every released element.
	Free(e *Element)
}

// HeapAllocator allocates elements on the Go heap and leaves reclaiming them to the garbage collector.
type HeapAllocator struct{} // Implements Allocator.

var _ Allocator = HeapAllocator{}

func (HeapAllocator) Allocate(value string) (*Element, error) {
	return NewElement(value), nil
}

func (HeapAllocator) Free(*Element) {}

// copyOut writes `value` into `buf` the way a C string would be copied into a fixed buffer: at most len(buf)-1
// bytes followed by a NUL byte. A nil or empty buffer receives nothing. Returns the number of payload bytes copied.
func copyOut(buf []byte, value string) int {
	if len(buf) == 0 {
		return 0
	}
	copied := copy(buf[:len(buf)-1], value)
	buf[copied] = 0
	return copied
}
