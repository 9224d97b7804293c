package queue

import (
	"iter"
	"math/rand/v2"
	"slices"
	"strconv"
	"testing"

	"github.com/nobletooth/ringq/pkg/scan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_Membership(t *testing.T) {
	chain := new(Chain)
	q1, q2 := New(), New()
	require.NoError(t, chain.Add(q1))
	require.NoError(t, chain.Add(q2))
	assert.ErrorIs(t, chain.Add(q1), ErrInvalidArgument, "A queue can't be chained twice")
	assert.ErrorIs(t, chain.Add(nil), ErrInvalidArgument)
	assert.Equal(t, 2, chain.Len())
	assert.Same(t, q2, chain.At(1))
	assert.Nil(t, chain.At(2))
	assert.Nil(t, chain.At(-1))
	assert.Equal(t, 1, chain.Index(q2))

	assert.True(t, chain.Remove(q1))
	assert.False(t, chain.Remove(q1))
	assert.Equal(t, []*Queue{q2}, chain.Queues())
	assert.Equal(t, 0, chain.Index(q2))
	assert.Equal(t, -1, chain.Index(q1))

	var nilChain *Chain
	assert.Equal(t, 0, nilChain.Len())
	assert.Equal(t, 0, nilChain.Merge(false))
	assert.False(t, nilChain.Remove(q1))
	assert.ErrorIs(t, nilChain.Add(q1), ErrInvalidArgument)
}

func TestChain_Merge(t *testing.T) {
	t.Run("ascending", func(t *testing.T) {
		chain := new(Chain)
		queues := []*Queue{
			newQueueWith(t, Options{}, "1", "3"),
			newQueueWith(t, Options{}, "2"),
			newQueueWith(t, Options{}, "0", "4"),
		}
		for _, q := range queues {
			require.NoError(t, chain.Add(q))
		}
		assert.Equal(t, 5, chain.Merge(false))
		assertQueueEquals(t, []string{"0", "1", "2", "3", "4"}, queues[0])
		assertQueueEquals(t, []string{}, queues[1])
		assertQueueEquals(t, []string{}, queues[2])
		assert.Equal(t, 3, chain.Len(), "Emptied queues stay chained")

		// Emptied queues remain usable.
		require.NoError(t, queues[1].InsertTail("z"))
		assertQueueEquals(t, []string{"z"}, queues[1])
	})

	t.Run("descending", func(t *testing.T) {
		chain := new(Chain)
		for _, values := range [][]string{{"c", "a"}, {"d", "b"}, {}, {"e"}} {
			require.NoError(t, chain.Add(newQueueWith(t, Options{}, values...)))
		}
		assert.Equal(t, 5, chain.Merge(true))
		assertQueueEquals(t, []string{"e", "d", "c", "b", "a"}, chain.At(0))
	})

	t.Run("ties keep earlier queues first", func(t *testing.T) {
		chain := new(Chain)
		first := newQueueWith(t, Options{}, "a", "b")
		second := newQueueWith(t, Options{}, "a", "b")
		firstHead := first.head.Next().Entry()
		secondHead := second.head.Next().Entry()
		require.NoError(t, chain.Add(first))
		require.NoError(t, chain.Add(second))
		assert.Equal(t, 4, chain.Merge(false))
		assert.Same(t, firstHead, first.head.Next().Entry())
		assert.Same(t, secondHead, first.head.Next().Next().Entry())
	})

	t.Run("first queue comparison is used", func(t *testing.T) {
		chain := new(Chain)
		require.NoError(t, chain.Add(newQueueWith(t, Options{Compare: NaturalCompare}, "2", "10")))
		require.NoError(t, chain.Add(newQueueWith(t, Options{}, "3", "11")))
		assert.Equal(t, 4, chain.Merge(false))
		assertQueueEquals(t, []string{"2", "3", "10", "11"}, chain.At(0))
	})

	t.Run("single queue", func(t *testing.T) {
		chain := new(Chain)
		require.NoError(t, chain.Add(newQueueWith(t, Options{}, "b", "a")))
		assert.Equal(t, 2, chain.Merge(false))
		assertQueueEquals(t, []string{"b", "a"}, chain.At(0))
	})

	t.Run("no queues", func(t *testing.T) {
		assert.Equal(t, 0, new(Chain).Merge(false))
	})

	t.Run("elements return to their own allocator", func(t *testing.T) {
		firstAlloc, secondAlloc := &countingAllocator{budget: 10}, &countingAllocator{budget: 10}
		chain := new(Chain)
		first := newQueueWith(t, Options{Allocator: firstAlloc}, "a")
		require.NoError(t, chain.Add(first))
		require.NoError(t, chain.Add(newQueueWith(t, Options{Allocator: secondAlloc}, "b", "c")))
		chain.Merge(false)
		first.Free()
		assert.Equal(t, 1, firstAlloc.freed)
		assert.Equal(t, 2, secondAlloc.freed)
	})
}

// TestChain_MergeMatchesMultiHead checks in-place merges against the lazily merged view of the same queues.
func TestChain_MergeMatchesMultiHead(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := range 50 {
		descend := round%2 == 1
		chain := new(Chain)
		for range 1 + rng.IntN(5) {
			values := make([]string, rng.IntN(8))
			for i := range values {
				values[i] = strconv.Itoa(rng.IntN(20))
			}
			q := newQueueWith(t, Options{Compare: NaturalCompare}, values...)
			q.Sort(descend)
			require.NoError(t, chain.Add(q))
		}

		compare := NaturalCompare
		if descend {
			compare = func(x, y string) int { return NaturalCompare(y, x) }
		}
		sequences := make([]iter.Seq[string], 0, chain.Len())
		for _, q := range chain.Queues() {
			sequences = append(sequences, slices.Values(q.Values()))
		}
		merged, err := scan.MultiHead(compare, sequences)
		require.NoError(t, err)
		expected := slices.Collect(merged)
		if expected == nil {
			expected = []string{}
		}

		assert.Equal(t, len(expected), chain.Merge(descend))
		assertQueueEquals(t, expected, chain.At(0))
	}
}
