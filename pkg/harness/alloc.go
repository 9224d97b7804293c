// The harness hands every queue it creates a TrackingAllocator. It counts live elements so that leaks show up when
// a session ends, and it can fail a configurable share of allocations to exercise the failure paths of insertions.

package harness

import (
	"fmt"
	"math/rand/v2"

	"github.com/nobletooth/ringq/pkg/queue"
	"github.com/nobletooth/ringq/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	liveElements = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ringq_harness_live_elements",
		Help: "Number of harness queue elements allocated and not released yet.",
	})
	injectedFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ringq_harness_injected_allocation_failures_total",
		Help: "Total number of allocation failures injected by the harness.",
	})
)

// TrackingAllocator allocates queue elements, counts the live ones and injects failures. Not thread-safe.
type TrackingAllocator struct { // Implements queue.Allocator.
	failPercent int // Share of allocations to fail, 0..100.
	rng         *rand.Rand
	live        int
	allocated   int
}

var _ queue.Allocator = (*TrackingAllocator)(nil)

// NewTrackingAllocator creates an allocator failing `failPercent` percent of the allocations.
func NewTrackingAllocator(failPercent int, seed uint64) *TrackingAllocator {
	alloc := &TrackingAllocator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
	alloc.SetFailPercent(failPercent)
	return alloc
}

// SetFailPercent changes the share of failing allocations; values are clamped to 0..100.
func (a *TrackingAllocator) SetFailPercent(failPercent int) {
	a.failPercent = min(max(failPercent, 0), 100)
}

// Allocate returns a new element unless a failure is injected.
func (a *TrackingAllocator) Allocate(value string) (*queue.Element, error) {
	if a.failPercent > 0 && a.rng.IntN(100) < a.failPercent {
		injectedFailures.Inc()
		return nil, fmt.Errorf("%w: injected failure", queue.ErrAllocationFailure)
	}
	a.live++
	a.allocated++
	liveElements.Inc()
	return queue.NewElement(value), nil
}

// Free accounts for a released element.
func (a *TrackingAllocator) Free(e *queue.Element) {
	if a.live == 0 {
		utils.RaiseInvariant("harness", "free_without_allocation",
			"An element was freed while no element was allocated.", "value", e.Value)
		return
	}
	a.live--
	liveElements.Dec()
}

// Live returns the number of elements allocated and not released yet.
func (a *TrackingAllocator) Live() int {
	return a.live
}

// Allocated returns the number of successful allocations so far.
func (a *TrackingAllocator) Allocated() int {
	return a.allocated
}
