package allocator

import "sync/atomic"

// AtomicMetrics is a ready-to-use Metrics sink keyed by absolute
// size-class exponent. Safe for concurrent use; every counter is a
// plain atomic add.
type AtomicMetrics struct {
	minLog2  int
	allocs   []int64
	deallocs []int64
	growths  int64
}

// NewAtomicMetrics builds counters covering classes [minLog2, maxLog2].
func NewAtomicMetrics(minLog2, maxLog2 int) *AtomicMetrics {
	n := maxLog2 - minLog2 + 1
	return &AtomicMetrics{
		minLog2:  minLog2,
		allocs:   make([]int64, n),
		deallocs: make([]int64, n),
	}
}

func (m *AtomicMetrics) IncAllocate(class int, count int) {
	atomic.AddInt64(&m.allocs[class-m.minLog2], int64(count))
}

func (m *AtomicMetrics) IncDeallocate(class int) {
	atomic.AddInt64(&m.deallocs[class-m.minLog2], 1)
}

func (m *AtomicMetrics) IncArenaGrowth() {
	atomic.AddInt64(&m.growths, 1)
}

// Allocations returns the current allocate count for class k.
func (m *AtomicMetrics) Allocations(class int) int64 {
	return atomic.LoadInt64(&m.allocs[class-m.minLog2])
}

// Deallocations returns the current deallocate count for class k.
func (m *AtomicMetrics) Deallocations(class int) int64 {
	return atomic.LoadInt64(&m.deallocs[class-m.minLog2])
}

// ArenaGrowths returns the total number of arenas materialized.
func (m *AtomicMetrics) ArenaGrowths() int64 {
	return atomic.LoadInt64(&m.growths)
}
