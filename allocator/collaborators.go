package allocator

// MemoryManager is the external, eviction-driven budget collaborator.
// The allocator never evicts anything itself; it only asks this
// interface for bytes and gives them back.
type MemoryManager interface {
	// ReserveMemory accounts n bytes against the global budget. If
	// wait is true it may block (and trigger eviction) before
	// answering. Returns false if the budget refuses.
	ReserveMemory(n int64, wait bool) bool
	// ReleaseMemory returns n bytes to the budget.
	ReleaseMemory(n int64)
	// UpdateMaxSize changes the budget ceiling.
	UpdateMaxSize(n int64)
	// DebugDumpForOOM returns a diagnostic string included in
	// OutOfMemory errors.
	DebugDumpForOOM() string
}

// Metrics is the external counters collaborator. Emission must never
// block and never holds an arena lock; a failing sink is swallowed by
// the caller.
type Metrics interface {
	IncAllocate(class int, count int)
	IncDeallocate(class int)
	IncArenaGrowth()
}

// BufferFactory produces blank BufferHandle instances for the
// allocator to populate.
type BufferFactory interface {
	NewHandle() *BufferHandle
	ReleaseHandle(*BufferHandle)
}

// NoopMetrics implements Metrics by discarding every call. It is the
// default when a Config omits Metrics.
type NoopMetrics struct{}

func (NoopMetrics) IncAllocate(int, int)  {}
func (NoopMetrics) IncDeallocate(int)     {}
func (NoopMetrics) IncArenaGrowth()       {}
