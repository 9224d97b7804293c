// Merging queues in place relinks their elements, which needs exclusive ownership of every queue. Readers that only
// want to look at the merged order of several sorted queues shouldn't pay for that, nor copy every queue first.
//
// This module implements a heap-based multi-way iterator that lazily yields from multiple sorted sequences using
// memory proportional to the number of sequences. Equal values are yielded in the order of their sequences, which
// matches the order an in-place stable merge would leave them in.

package scan

import (
	"container/heap"
	"errors"
	"iter"

	"github.com/nobletooth/ringq/pkg/utils"
)

// heapElement represents a pulled item from sequences inside iterHeap.
type heapElement[T any] struct {
	value  T
	seqIdx int // The sequence index inside MultiHead's sequences that produced this element.
}

// iterHeap holds the iteration state over multiple iterators.
type iterHeap[T any] struct { // Implements heap.Interface.
	compare  utils.CompareFn[T]
	elements []*heapElement[T]
}

var _ heap.Interface = (*iterHeap[int])(nil)

func (ih *iterHeap[T]) Len() int {
	return len(ih.elements)
}

// Less returns true when element[i] has a less value or comes from an earlier sequence with an equal value.
func (ih *iterHeap[T]) Less(i, j int) bool {
	e1, e2 := ih.elements[i], ih.elements[j]
	if cmp := ih.compare(e1.value, e2.value); cmp == 0 {
		return e1.seqIdx < e2.seqIdx
	} else {
		return cmp < 0
	}
}

// Swap changes positions of elements at i and j.
func (ih *iterHeap[T]) Swap(i, j int) {
	ih.elements[i], ih.elements[j] = ih.elements[j], ih.elements[i]
}

// Push will add the given element `x` to the heap if it matches the desired type.
func (ih *iterHeap[T]) Push(x any) {
	if element, ok := x.(*heapElement[T]); !ok {
		utils.RaiseInvariant("merged_iterator", "pushed_invalid_type", "An item with invalid type was pushed to heap.")
	} else if element == nil {
		utils.RaiseInvariant("merged_iterator", "pushed_nil_element", "A nil element was pushed to iteration heap.")
	} else if len(ih.elements) == cap(ih.elements) {
		utils.RaiseInvariant("merged_iterator", "exceeded_capacity",
			"An element was pushed while the capacity was full.", "cap", cap(ih.elements))
	} else {
		ih.elements = append(ih.elements, element)
	}
}

// Pop returns and removes the last element in the heap.
func (ih *iterHeap[T]) Pop() any {
	lastElement := ih.elements[len(ih.elements)-1]
	ih.elements = ih.elements[:len(ih.elements)-1]
	return lastElement
}

// MultiHead allows multi-way iteration over a list of sorted sequences. Every value of every sequence is yielded
// once, in `cmp` order; ties are broken by the position of their sequence. Note: Sequences are expected to be sorted
// by `cmp`, pass a reversed comparison to merge descending sequences.
func MultiHead[T any](cmp utils.CompareFn[T], sequences []iter.Seq[T]) (iter.Seq[T], error) {
	if cmp == nil {
		return nil, errors.New("expected a non-nil comparison function")
	}
	if len(sequences) == 0 {
		return nil, errors.New("expected a non-empty sequences")
	}

	return func(yield func(T) bool) {
		// Pull the first element of every sequence. Empty sequences are skipped entirely.
		it := &iterHeap[T]{compare: cmp, elements: make([]*heapElement[T], 0, len(sequences))}
		pull := make([]func() (T, bool), len(sequences))
		stop := make([]func(), len(sequences))
		defer func() {
			for _, stopFn := range stop {
				if stopFn != nil {
					stopFn()
				}
			}
		}()
		for idx, seq := range sequences {
			pull[idx], stop[idx] = iter.Pull(seq)
			if first, hasAny := pull[idx](); hasAny {
				heap.Push(it, &heapElement[T]{value: first, seqIdx: idx})
			}
		}

		for it.Len() > 0 {
			topElement := heap.Pop(it).(*heapElement[T])
			if next, hasNext := pull[topElement.seqIdx](); hasNext { // Next element of the sequence enters the heap.
				heap.Push(it, &heapElement[T]{value: next, seqIdx: topElement.seqIdx})
			}
			if !yield(topElement.value) {
				return
			}
		}
	}, nil
}
