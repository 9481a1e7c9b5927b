// Package allocator implements the cache-facing buddy allocator: it
// coordinates a bounded, lazily-grown set of arena.Arena regions,
// cooperates with an external MemoryManager, and serves multi-buffer
// requests from many goroutines at once.
package allocator

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/bytedance/gopkg/util/xxhash3"
	"github.com/timandy/routine"

	"github.com/pagebuf/buddy/arena"
)

// Allocator is the public entry point.
type Allocator struct {
	cfg     Config
	minLog2 int
	maxLog2 int
	classes int

	maxArenas    int
	arenas       []*arena.Arena // pre-sized to maxArenas; nil past the materialized prefix
	materialized int32          // atomic: length of the materialized prefix

	growMu sync.Mutex // serializes materialization only

	hint func() int64

	memMgr  MemoryManager
	metrics Metrics
	factory BufferFactory
	pool    *metricsDispatcher
}

// New validates cfg and constructs an Allocator. Arenas are not
// materialized yet; they come into existence lazily on first need.
func New(cfg Config) (*Allocator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	minLog2, maxLog2 := cfg.minLog2(), cfg.maxLog2()
	maxArenas := cfg.maxArenas()

	if cfg.MemoryManager == nil {
		cfg.MemoryManager = NewBudgetMemoryManager(cfg.MaxTotalBytes)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}
	if cfg.Factory == nil {
		cfg.Factory = NewPooledBufferFactory()
	}

	a := &Allocator{
		cfg:       cfg,
		minLog2:   minLog2,
		maxLog2:   maxLog2,
		classes:   maxLog2 - minLog2 + 1,
		maxArenas: maxArenas,
		arenas:    make([]*arena.Arena, maxArenas),
		hint:      routine.Goid,
		memMgr:    cfg.MemoryManager,
		metrics:   cfg.Metrics,
		factory:   cfg.Factory,
		pool:      newMetricsDispatcher(8, 256, time.Minute),
	}
	return a, nil
}

func (a *Allocator) classForRequest(sizeBytes int) (int, error) {
	if sizeBytes <= 0 {
		return 0, newError(ErrInvalidSize, "buddy: invalid size %d", sizeBytes)
	}
	if sizeBytes > a.cfg.MaxAllocBytes {
		return 0, newError(ErrInvalidSize, "buddy: size %d exceeds MaxAllocBytes %d", sizeBytes, a.cfg.MaxAllocBytes)
	}
	k := arena.ClassForSize(sizeBytes)
	if k < a.minLog2 {
		k = a.minLog2
	}
	return k, nil
}

// AllocateMultiple fills handles[i] for every i with a live buffer of
// the rounded-up class for sizeBytes, atomically: on any failure,
// every handle populated during this call is rolled back before the
// error is returned.
func (a *Allocator) AllocateMultiple(handles []*BufferHandle, sizeBytes int) error {
	if len(handles) == 0 {
		return nil
	}
	k, err := a.classForRequest(sizeBytes)
	if err != nil {
		return err
	}

	need := len(handles)
	served := 0

	fill := func(upto int) int {
		return a.fillFromArenas(handles, served, need, k, upto)
	}

	served += fill(int(atomic.LoadInt32(&a.materialized)))

	for served < need {
		remainBlocks := int64(need - served)
		remainBytes := remainBlocks << uint(k)

		if !a.memMgr.ReserveMemory(remainBytes, true) {
			a.rollback(handles[:served])
			return newError(ErrOutOfMemory, "buddy: reservation of %d bytes refused: %s", remainBytes, a.memMgr.DebugDumpForOOM())
		}

		grownTo := a.growFor(remainBytes)

		before := served
		served += fill(grownTo)
		gotBlocks := int64(served-before) << uint(k)
		if leftover := remainBytes - gotBlocks; leftover > 0 {
			a.memMgr.ReleaseMemory(leftover)
		}

		if served == before {
			a.rollback(handles[:served])
			return newError(ErrOutOfMemory, "buddy: arena growth made no progress: %s", a.memMgr.DebugDumpForOOM())
		}
	}

	a.emitAllocate(k, need)
	return nil
}

// Allocate is a single-buffer convenience wrapper around
// AllocateMultiple for the common one-buffer-at-a-time caller.
func (a *Allocator) Allocate(sizeBytes int) (*BufferHandle, error) {
	h := a.factory.NewHandle()
	handles := []*BufferHandle{h}
	if err := a.AllocateMultiple(handles, sizeBytes); err != nil {
		a.factory.ReleaseHandle(h)
		return nil, err
	}
	return h, nil
}

// rollback deallocates every handle in a partially-served call before
// surfacing the triggering error, so AllocateMultiple is atomic.
func (a *Allocator) rollback(served []*BufferHandle) {
	for _, h := range served {
		a.deallocate(h)
	}
}

func (a *Allocator) fillFromArenas(handles []*BufferHandle, from, need, k, upto int) int {
	if upto == 0 {
		return 0
	}
	base := int(uint64(a.hint()) % uint64(upto))

	scratch := make([]arena.Block, need-from)
	served := 0
	for i := 0; i < upto && served < len(scratch); i++ {
		idx := (base + i) % upto
		if ar := a.arenaAt(idx); ar != nil {
			n := ar.AllocateLocal(scratch[served:], k)
			for j := 0; j < n; j++ {
				a.populate(handles[from+served], idx, scratch[served])
				served++
			}
		}
	}
	return served
}

func (a *Allocator) arenaAt(idx int) *arena.Arena {
	return a.arenas[idx]
}

// growFor advances the materialized arena count by the minimum number
// of arenas needed to cover remainBytes, up to maxArenas. New arenas
// are fully initialized before the atomic count bump that publishes
// them to concurrent readers.
//
// growFor never itself reports OutOfMemory: if maxArenas is already
// fully materialized, it simply returns the unchanged count and lets
// the caller's subsequent fill-and-check-progress loop decide whether
// that was fatal. Existing arenas may have gained free space from a
// concurrent deallocate since the last fill attempt, so a hard
// failure here would be a false positive.
func (a *Allocator) growFor(remainBytes int64) int {
	a.growMu.Lock()
	defer a.growMu.Unlock()

	cur := int(atomic.LoadInt32(&a.materialized))
	arenaBytes := int64(a.cfg.ArenaSizeBytes)
	wantTotal := cur + int((remainBytes+arenaBytes-1)/arenaBytes)
	if wantTotal > a.maxArenas {
		wantTotal = a.maxArenas
	}

	for i := cur; i < wantTotal; i++ {
		region := dirtmake.Bytes(a.cfg.ArenaSizeBytes, a.cfg.ArenaSizeBytes)
		a.arenas[i] = arena.New(a.minLog2, a.maxLog2, region)
		atomic.AddInt32(&a.materialized, 1)
		a.emitArenaGrowth()
	}
	return int(atomic.LoadInt32(&a.materialized))
}

// Deallocate returns handle's buffer to its owning arena. Calling it
// twice on the same handle is undefined.
func (a *Allocator) Deallocate(h *BufferHandle) {
	a.deallocate(h)
	a.factory.ReleaseHandle(h)
}

func (a *Allocator) deallocate(h *BufferHandle) {
	if h == nil || !h.live {
		return
	}
	a.verifyChecksum(h)

	ar := a.arenaAt(int(h.arenaIndex))
	ar.DeallocateLocal(int(h.class), h.offset)
	h.live = false

	a.memMgr.ReleaseMemory(int64(1) << uint(h.class))
	a.emitDeallocate(int(h.class))
}

// populate binds a handle to a freshly carved block. live is set here,
// not at the end of AllocateMultiple: a handle holds a real allocation
// the moment it is populated, so a mid-call rollback can free it
// through the ordinary deallocate path.
func (a *Allocator) populate(h *BufferHandle, arenaIndex int, b arena.Block) {
	ar := a.arenaAt(arenaIndex)
	h.buf = ar.Bytes(b.Offset, 1<<uint(b.Class))
	h.arenaIndex = int32(arenaIndex)
	h.class = int32(b.Class)
	h.offset = b.Offset
	h.checksum = handleChecksum(arenaIndex, b.Class, b.Offset)
	h.live = true
}

func handleChecksum(arenaIndex, class int, offset int32) uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(arenaIndex))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(class))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(offset))
	return xxhash3.Hash(buf[:])
}

func (a *Allocator) verifyChecksum(h *BufferHandle) {
	want := handleChecksum(int(h.arenaIndex), int(h.class), h.offset)
	if want != h.checksum {
		panic(newError(ErrInternalConsistency, "buddy: handle checksum mismatch (arena=%d class=%d offset=%d): corrupted or foreign handle",
			h.arenaIndex, h.class, h.offset))
	}
}

// UpdateBudget passes a new ceiling through to the memory manager. A
// ceiling below one arena, or below the bytes of the arenas already
// materialized, is refused with ErrInvalidConfig. The arena cap fixed
// by Config.MaxTotalBytes at construction is not changed.
func (a *Allocator) UpdateBudget(n int64) error {
	if n < int64(a.cfg.ArenaSizeBytes) {
		return newError(ErrInvalidConfig, "buddy: budget %d cannot hold even one arena (%d bytes)", n, a.cfg.ArenaSizeBytes)
	}
	footprint := int64(atomic.LoadInt32(&a.materialized)) * int64(a.cfg.ArenaSizeBytes)
	if n < footprint {
		return newError(ErrInvalidConfig, "buddy: budget %d is below the %d bytes of arenas already materialized", n, footprint)
	}
	a.memMgr.UpdateMaxSize(n)
	return nil
}

// DebugDump returns a per-arena, per-class free-bytes census.
func (a *Allocator) DebugDump() string {
	buf := mcache.Malloc(256)
	defer mcache.Free(buf)
	buf = buf[:0]

	upto := int(atomic.LoadInt32(&a.materialized))
	buf = append(buf, []byte("buddy allocator: ")...)
	buf = appendInt(buf, upto)
	buf = append(buf, []byte(" of ")...)
	buf = appendInt(buf, a.maxArenas)
	buf = append(buf, []byte(" arenas materialized\n")...)

	for i := 0; i < upto; i++ {
		buf = append(buf, []byte("arena[")...)
		buf = appendInt(buf, i)
		buf = append(buf, []byte("]:\n")...)
		buf = append(buf, []byte(a.arenas[i].Census())...)
	}
	return string(buf)
}

func appendInt(buf []byte, n int) []byte {
	if n == 0 {
		return append(buf, '0')
	}
	start := len(buf)
	for n > 0 {
		buf = append(buf, byte('0'+n%10))
		n /= 10
	}
	for l, r := start, len(buf)-1; l < r; l, r = l+1, r-1 {
		buf[l], buf[r] = buf[r], buf[l]
	}
	return buf
}

func (a *Allocator) emitAllocate(k, count int) {
	metrics, c := a.metrics, count
	a.pool.Go(func() { metrics.IncAllocate(k, c) })
}

func (a *Allocator) emitDeallocate(k int) {
	metrics := a.metrics
	a.pool.Go(func() { metrics.IncDeallocate(k) })
}

func (a *Allocator) emitArenaGrowth() {
	metrics := a.metrics
	a.pool.Go(func() { metrics.IncArenaGrowth() })
}
