// Relinking algorithms over a sentinel ring. All of them run in linear time with constant extra links, except Sort
// which is O(n log n) time with O(log n) recursion depth.

package list

// LessEqFn reports whether `a` may stay in front of `b` in the resulting order.
type LessEqFn[E any] func(a, b E) bool

// Reverse reverses the order of the links attached to the sentinel l.
func (l *Link[E]) Reverse() {
	n := l
	for {
		n.next, n.prev = n.prev, n.next
		n = n.prev // The old next link.
		if n == l {
			return
		}
	}
}

// SwapPairs exchanges the positions of each disjoint pair of adjacent links: (1st, 2nd), (3rd, 4th), ...
// A trailing unpaired link stays where it is.
func (l *Link[E]) SwapPairs() {
	for first := l.next; first != l && first.next != l; first = first.next {
		first.next.MoveBefore(first)
	}
}

// ReverseGroups reverses every consecutive group of `k` links. A trailing group shorter than `k` keeps its order.
// Group sizes below 2 leave the ring untouched.
func (l *Link[E]) ReverseGroups(k int) {
	if k <= 1 {
		return
	}
	anchor := l // The link right before the current group.
	for {
		{ // Make sure a full group is available.
			probe, available := anchor.next, 0
			for available < k && probe != l {
				probe = probe.next
				available++
			}
			if available < k {
				return
			}
		}
		groupFront := anchor.next // Ends up at the back of the group.
		for range k - 1 {
			groupFront.next.MoveAfter(anchor)
		}
		anchor = groupFront
	}
}

// Merge merges the sorted ring of the sentinel `other` into the sorted ring of the sentinel l. Links already
// attached to l win ties, so l must hold the run that came first. `other` is left empty.
func (l *Link[E]) Merge(other *Link[E], keep LessEqFn[E]) {
	if other == l {
		return
	}
	pos := l.next
	for !other.Empty() {
		if pos == l { // The first run is exhausted, append the rest as is.
			l.SpliceTail(other)
			return
		}
		candidate := other.next
		if keep(pos.entry, candidate.entry) {
			pos = pos.next
			continue
		}
		candidate.MoveBefore(pos)
	}
}

// Sort orders the links of the sentinel l with a stable top-down merge sort.
func (l *Link[E]) Sort(keep LessEqFn[E]) {
	l.mergeSort(l.Len(), keep)
}

// mergeSort sorts the `n` links of the sentinel l. The second half is cut into a temporary sentinel, both halves are
// sorted and then merged back into l.
func (l *Link[E]) mergeSort(n int, keep LessEqFn[E]) {
	if n <= 1 {
		return
	}
	half := n / 2
	cut := l.next
	for range half {
		cut = cut.next
	}
	var (
		right Link[E]
		zero  E
	)
	right.Init(zero)
	l.CutTail(&right, cut)

	l.mergeSort(half, keep)
	right.mergeSort(n-half, keep)
	l.Merge(&right, keep)
}
