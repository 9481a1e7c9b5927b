package allocator

// BufferHandle is the lightweight descriptor callers hold. Its
// interior is only mutable by the Allocator; a handle is a value
// object to everyone else. checksum guards against a caller mutating
// the three addressing fields (or passing a handle from a different
// allocator) before calling Deallocate: it is not a security
// boundary, just an assertion tripwire surfaced as
// ErrInternalConsistency.
type BufferHandle struct {
	buf        []byte
	arenaIndex int32
	class      int32
	offset     int32
	checksum   uint64
	live       bool
}

// Bytes returns the allocated region. Valid until Deallocate.
func (h *BufferHandle) Bytes() []byte { return h.buf }

// Len returns the usable length, equal to 1<<k for the handle's size
// class.
func (h *BufferHandle) Len() int { return len(h.buf) }

// Class returns the log2 exponent of the handle's size class.
func (h *BufferHandle) Class() int { return int(h.class) }

// Live reports whether the handle currently references a live
// allocation (false once Deallocate has been called on it).
func (h *BufferHandle) Live() bool { return h.live }

func (h *BufferHandle) reset() {
	h.buf = nil
	h.arenaIndex = 0
	h.class = 0
	h.offset = 0
	h.checksum = 0
	h.live = false
}
