package queue

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/nobletooth/ringq/pkg/list"
	"github.com/nobletooth/ringq/pkg/utils"
)

var _ utils.CompareFn[string] = NaturalCompare

// NaturalCompare orders decimal integers by their numeric value and before any other string. Non-numeric strings,
// and numbers with equal values but different spellings (e.g. "07" and "7"), fall back to byte-wise order.
func NaturalCompare(x, y string) int {
	xInt, xErr := strconv.ParseInt(x, 10, 64)
	yInt, yErr := strconv.ParseInt(y, 10, 64)
	switch {
	case xErr == nil && yErr == nil:
		if c := cmp.Compare(xInt, yInt); c != 0 {
			return c
		}
	case xErr == nil:
		return -1
	case yErr == nil:
		return 1
	}
	return strings.Compare(x, y)
}

// namedCompares maps the names comparisons are configured with to the comparisons.
var namedCompares = map[string]utils.CompareFn[string]{
	"lex":     strings.Compare,
	"natural": NaturalCompare,
}

// CompareByName returns the comparison registered under `name`: "lex" for byte-wise order or "natural".
func CompareByName(name string) (utils.CompareFn[string], error) {
	compare, found := namedCompares[name]
	if !found {
		return nil, fmt.Errorf("%w: unknown comparison '%s', expected one of %v", ErrInvalidArgument, name,
			CompareNames())
	}
	return compare, nil
}

// CompareNames returns the names accepted by CompareByName, sorted.
func CompareNames() []string {
	return slices.Sorted(maps.Keys(namedCompares))
}

// keepOrder returns the merge predicate for the queue comparison: ascending keeps `a <= b`, descending `a >= b`.
func keepOrder(compare utils.CompareFn[string], descend bool) list.LessEqFn[*Element] {
	if descend {
		return func(a, b *Element) bool { return compare(a.Value, b.Value) >= 0 }
	}
	return func(a, b *Element) bool { return compare(a.Value, b.Value) <= 0 }
}

// Sort orders the queue with a stable merge sort, ascending unless `descend` is set.
func (q *Queue) Sort(descend bool) {
	if q == nil {
		return
	}
	q.sentinel().Sort(keepOrder(q.Compare(), descend))
}

// Ascend removes every element that has a strictly smaller element anywhere to its right and returns the new size.
func (q *Queue) Ascend() int {
	return q.filterMonotonic(func(c int) bool { return c > 0 })
}

// Descend removes every element that has a strictly greater element anywhere to its right and returns the new size.
func (q *Queue) Descend() int {
	return q.filterMonotonic(func(c int) bool { return c < 0 })
}

// filterMonotonic sweeps the queue from back to front keeping a running extremum: an element is dropped when
// `discard(compare(element, extremum))` holds, otherwise it becomes the new extremum.
func (q *Queue) filterMonotonic(discard func(int) bool) int {
	if q == nil {
		return 0
	}
	head := q.sentinel()
	if head.Empty() {
		return 0
	}
	compare := q.Compare()
	extremum := head.Prev()
	kept := 1
	for cursor := extremum.Prev(); cursor != head; {
		prev := cursor.Prev()
		if discard(compare(cursor.Entry().Value, extremum.Entry().Value)) {
			drop(cursor)
		} else {
			extremum = cursor
			kept++
		}
		cursor = prev
	}
	return kept
}
