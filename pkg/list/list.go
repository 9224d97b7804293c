// Ringq keeps queue elements on an intrusive circular doubly linked list. The links live inside the element
// structures and a dedicated sentinel link marks the list boundary: its next link is the front element and its
// previous link is the back element. An empty list is a sentinel linked to itself, so there are no nil terminators
// and no special cases for the ends of the list.
//
// Every method here only rewires links; payloads are never copied or reallocated.

package list

import (
	"errors"
	"fmt"
)

// ErrBrokenLink is returned when a ring doesn't satisfy the back-pointer invariant.
var ErrBrokenLink = errors.New("broken list link")

// Link is embedded inside list members. It points to its neighbours and to the structure that embeds it.
type Link[E any] struct {
	next  *Link[E]
	prev  *Link[E]
	entry E // The structure that embeds this link; zero for sentinels.
}

// Init links l to itself and records its owning entry. Sentinels pass the zero value of E.
func (l *Link[E]) Init(entry E) {
	l.next = l
	l.prev = l
	l.entry = entry
}

// Entry returns the structure that embeds the link.
func (l *Link[E]) Entry() E {
	return l.entry
}

// Next returns the next link in the ring.
func (l *Link[E]) Next() *Link[E] {
	return l.next
}

// Prev returns the previous link in the ring.
func (l *Link[E]) Prev() *Link[E] {
	return l.prev
}

// Empty returns true when the sentinel l has no other links attached.
func (l *Link[E]) Empty() bool {
	return l.next == l
}

// Len counts the links attached to the sentinel l.
func (l *Link[E]) Len() int {
	count := 0
	for n := l.next; n != l; n = n.next {
		count++
	}
	return count
}

// insertBetween attaches the detached link l between two adjacent links.
func (l *Link[E]) insertBetween(prev, next *Link[E]) {
	next.prev = l
	l.next = next
	l.prev = prev
	prev.next = l
}

// InsertAfter attaches the detached link l right after `at`.
func (l *Link[E]) InsertAfter(at *Link[E]) {
	l.insertBetween(at, at.next)
}

// InsertBefore attaches the detached link l right before `at`.
func (l *Link[E]) InsertBefore(at *Link[E]) {
	l.insertBetween(at.prev, at)
}

// Unlink detaches l from its ring and leaves it linked to itself, so unlinking twice is harmless.
func (l *Link[E]) Unlink() {
	l.prev.next = l.next
	l.next.prev = l.prev
	l.next = l
	l.prev = l
}

// MoveAfter detaches l and attaches it right after `at`.
func (l *Link[E]) MoveAfter(at *Link[E]) {
	if l == at {
		return
	}
	l.Unlink()
	l.InsertAfter(at)
}

// MoveBefore detaches l and attaches it right before `at`.
func (l *Link[E]) MoveBefore(at *Link[E]) {
	if l == at {
		return
	}
	l.Unlink()
	l.InsertBefore(at)
}

// SpliceTail moves every link of the sentinel `src` to the back of the sentinel l. `src` is left empty.
func (l *Link[E]) SpliceTail(src *Link[E]) {
	if src.Empty() || src == l {
		return
	}
	first, last := src.next, src.prev
	first.prev = l.prev
	l.prev.next = first
	last.next = l
	l.prev = last
	src.next = src
	src.prev = src
}

// CutTail moves the links from `at` up to the back of the sentinel l into the empty sentinel `dst`.
// Passing l itself as `at` moves nothing.
func (l *Link[E]) CutTail(dst, at *Link[E]) {
	if at == l {
		return
	}
	last := l.prev
	// Close l right before `at`.
	l.prev = at.prev
	at.prev.next = l
	// Hook the detached run [at, last] onto dst.
	dst.next = at
	at.prev = dst
	dst.prev = last
	last.next = dst
}

// Verify walks the ring of the sentinel l and checks that `n.next.prev == n` and `n.prev.next == n` hold for every
// link. It returns the number of non-sentinel links. Since each link is reached through a checked back pointer, a
// corrupted ring is reported instead of walked forever.
func (l *Link[E]) Verify() (int, error) {
	if l == nil {
		return 0, fmt.Errorf("%w: nil sentinel", ErrBrokenLink)
	}
	count := 0
	for n := l; ; n = n.next {
		if n.next == nil || n.prev == nil {
			return count, fmt.Errorf("%w: nil pointer after %d links", ErrBrokenLink, count)
		}
		if n.next.prev != n {
			return count, fmt.Errorf("%w: next.prev mismatch after %d links", ErrBrokenLink, count)
		}
		if n.prev.next != n {
			return count, fmt.Errorf("%w: prev.next mismatch after %d links", ErrBrokenLink, count)
		}
		if n.next == l {
			return count, nil
		}
		count++
	}
}
