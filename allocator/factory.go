package allocator

import "sync"

// PooledBufferFactory is the default BufferFactory: blank handles are
// recycled through a single sync.Pool instead of allocating a fresh
// *BufferHandle per call. A BufferHandle is one fixed-size struct
// regardless of size class, unlike a raw variable-length byte slice,
// so one pool bucket suffices rather than one per class.
type PooledBufferFactory struct {
	pool sync.Pool
}

// NewPooledBufferFactory returns a ready-to-use PooledBufferFactory.
func NewPooledBufferFactory() *PooledBufferFactory {
	f := &PooledBufferFactory{}
	f.pool.New = func() interface{} { return &BufferHandle{} }
	return f
}

func (f *PooledBufferFactory) NewHandle() *BufferHandle {
	return f.pool.Get().(*BufferHandle)
}

func (f *PooledBufferFactory) ReleaseHandle(h *BufferHandle) {
	h.reset()
	f.pool.Put(h)
}
