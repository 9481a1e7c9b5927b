package allocator

import (
	"fmt"
	"sync"
)

// BudgetMemoryManager is the default MemoryManager: it tracks a
// single global byte budget with no eviction policy of its own. It is
// meant for tests and for callers who already bound memory by
// Config.MaxTotalBytes alone and don't need a real eviction-driven
// manager. Production cache callers are expected to supply their own
// MemoryManager backed by a real eviction policy.
//
// When wait is true and the budget is exhausted, ReserveMemory blocks
// until a ReleaseMemory call frees enough room or the manager is
// closed.
type BudgetMemoryManager struct {
	mu       sync.Mutex
	cond     *sync.Cond
	maxBytes int64
	used     int64
	closed   bool
}

// NewBudgetMemoryManager creates a manager with the given byte
// ceiling. maxBytes <= 0 means unbounded.
func NewBudgetMemoryManager(maxBytes int64) *BudgetMemoryManager {
	m := &BudgetMemoryManager{maxBytes: maxBytes}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *BudgetMemoryManager) ReserveMemory(n int64, wait bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if m.maxBytes <= 0 || m.used+n <= m.maxBytes {
			m.used += n
			return true
		}
		// A request larger than the ceiling itself can never be
		// satisfied by any amount of releasing; waiting for it would
		// block forever.
		if !wait || m.closed || n > m.maxBytes {
			return false
		}
		m.cond.Wait()
	}
}

func (m *BudgetMemoryManager) ReleaseMemory(n int64) {
	m.mu.Lock()
	m.used -= n
	if m.used < 0 {
		m.used = 0
	}
	m.mu.Unlock()
	m.cond.Broadcast()
}

func (m *BudgetMemoryManager) UpdateMaxSize(n int64) {
	m.mu.Lock()
	m.maxBytes = n
	m.mu.Unlock()
	m.cond.Broadcast()
}

// Close unblocks any ReserveMemory callers currently waiting, making
// them observe a refusal instead of blocking forever.
func (m *BudgetMemoryManager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cond.Broadcast()
}

func (m *BudgetMemoryManager) DebugDumpForOOM() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("budget: used=%d max=%d", m.used, m.maxBytes)
}
